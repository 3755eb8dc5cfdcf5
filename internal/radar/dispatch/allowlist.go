package dispatch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Allowlist restricts instruction or command names. A nil Allowlist
// accepts any well-formed name.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist returns an Allowlist of names. Malformed names are an error.
func NewAllowlist(names ...string) (*Allowlist, error) {
	a := &Allowlist{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if !validName.MatchString(n) {
			return nil, fmt.Errorf("%w: malformed name %q", radar.ErrConfiguration, n)
		}
		a.names[n] = struct{}{}
	}
	return a, nil
}

// Check reports whether name may be sent.
func (a *Allowlist) Check(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: malformed name %q", radar.ErrConfiguration, name)
	}
	if a == nil {
		return nil
	}
	if _, ok := a.names[name]; !ok {
		return fmt.Errorf("%w: %q is not allowed (allowed: %s)", radar.ErrConfiguration, name, a)
	}
	return nil
}

func (a *Allowlist) String() string {
	if a == nil {
		return "*"
	}
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
