package variant

import (
	"fmt"
	"sort"
)

// Tag names a sensor protocol variant: the sensor family plus the interface
// version its firmware speaks.
type Tag string

const (
	UMRRA4V101 Tag = "umrra4_v1_0_1"
	UMRR11     Tag = "umrr11"
	UMRR96     Tag = "umrr96"
	UMRR9FV111 Tag = "umrr9f_v1_1_1"
	UMRR9FV200 Tag = "umrr9f_v2_0_0"
	UMRR9FV211 Tag = "umrr9f_v2_1_1"
	UMRR9FV221 Tag = "umrr9f_v2_2_1"
	UMRR9DV103 Tag = "umrr9d_v1_0_3"
	UMRR9DV122 Tag = "umrr9d_v1_2_2"
	UMRRA1V100 Tag = "umrra1_v1_0_0"
)

// Parse validates a variant name.
func Parse(s string) (Tag, error) {
	t := Tag(s)
	if _, ok := layouts[t]; !ok {
		return "", fmt.Errorf("unknown protocol variant %q", s)
	}
	return t, nil
}

// All returns every supported tag in lexical order.
func All() []Tag {
	tags := make([]Tag, 0, len(layouts))
	for t := range layouts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Version returns the interface version a variant's envelopes carry.
func (t Tag) Version() (major, minor, patch uint8, ok bool) {
	l, ok := layouts[t]
	if !ok {
		return 0, 0, 0, false
	}
	return l.version[0], l.version[1], l.version[2], true
}

// SupportsCAN reports whether the variant emits a CAN target base list.
func (t Tag) SupportsCAN() bool {
	l, ok := layouts[t]
	return ok && l.canBaseList != nil
}
