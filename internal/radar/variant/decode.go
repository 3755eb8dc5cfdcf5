package variant

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// Result is a decoded batch. Dropped counts records that failed sanity
// checks and were omitted from Targets.
type Result struct {
	Kind      radar.PayloadKind
	Cycle     uint32
	Timestamp time.Time
	Targets   []radar.Target
	Dropped   int
}

// DecodeFunc turns one variant's raw batch into canonical targets. It never
// retains raw and never touches shared state.
type DecodeFunc func(raw []byte) (Result, error)

var decoders = func() map[Tag]DecodeFunc {
	m := make(map[Tag]DecodeFunc, len(layouts))
	for tag, l := range layouts {
		m[tag] = l.decode
	}
	return m
}()

// Decoder returns the decode function registered for tag.
func Decoder(tag Tag) (DecodeFunc, bool) {
	fn, ok := decoders[tag]
	return fn, ok
}

// Decode dispatches raw to the decoder for tag. An envelope that cannot be
// parsed fails the whole batch with radar.ErrDecode; individual bad records
// are dropped and counted.
func Decode(tag Tag, raw []byte) (Result, error) {
	fn, ok := decoders[tag]
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown protocol variant %q", radar.ErrDecode, tag)
	}
	return fn(raw)
}

func (l *layout) decode(raw []byte) (Result, error) {
	if len(raw) < HeaderSize {
		return Result{}, l.errorf("batch too short: need %d header bytes, have %d", HeaderSize, len(raw))
	}
	if raw[0] != MagicHi || raw[1] != MagicLo {
		return Result{}, l.errorf("invalid magic 0x%02X%02X", raw[0], raw[1])
	}
	kind := radar.PayloadKind(raw[offPort])
	rec := l.records(kind)
	if rec == nil {
		return Result{}, l.errorf("unsupported port %s", kind)
	}
	if raw[offFamily] != l.family {
		return Result{}, l.errorf("sensor family 0x%02X, want 0x%02X", raw[offFamily], l.family)
	}
	v := raw[offVersion : offVersion+3]
	if v[0] != l.version[0] || v[1] != l.version[1] || v[2] != l.version[2] {
		return Result{}, l.errorf("interface version %d.%d.%d, want %d.%d.%d",
			v[0], v[1], v[2], l.version[0], l.version[1], l.version[2])
	}

	count := int(l.order.Uint16(raw[offCount:]))
	if want := HeaderSize + count*rec.size; len(raw) != want {
		return Result{}, l.errorf("%d records of %d bytes need %d bytes, have %d",
			count, rec.size, want, len(raw))
	}

	res := Result{
		Kind:      kind,
		Cycle:     l.order.Uint32(raw[offCycle:]),
		Timestamp: time.UnixMicro(int64(l.order.Uint64(raw[offTimestamp:]))).UTC(),
		Targets:   make([]radar.Target, 0, count),
	}

	body := raw[HeaderSize:]
	for i := 0; i < count; i++ {
		b := body[i*rec.size : (i+1)*rec.size]
		t := radar.Target{
			ID:          uint32(l.read(b, rec.id)),
			Range:       l.read(b, rec.rng),
			SpeedRadial: l.read(b, rec.speed),
			Azimuth:     l.read(b, rec.azimuth),
			Elevation:   l.read(b, rec.elevation),
			Power:       l.read(b, rec.power),
			RCS:         l.read(b, rec.rcs),
			Noise:       l.read(b, rec.noise),
		}
		if !sane(t) {
			res.Dropped++
			continue
		}
		res.Targets = append(res.Targets, t)
	}
	return res, nil
}

func (l *layout) read(b []byte, f field) float64 {
	if !f.present {
		return 0
	}
	var raw float64
	switch f.enc {
	case encU16:
		raw = float64(l.order.Uint16(b[f.off:]))
	case encI16:
		raw = float64(int16(l.order.Uint16(b[f.off:])))
	case encU32:
		raw = float64(l.order.Uint32(b[f.off:]))
	case encI32:
		raw = float64(int32(l.order.Uint32(b[f.off:])))
	case encF32:
		raw = float64(math.Float32frombits(l.order.Uint32(b[f.off:])))
	}
	return raw * f.scale
}

func (l *layout) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", radar.ErrDecode, l.tag, fmt.Sprintf(format, args...))
}

// sane rejects records no sensor can legitimately report.
func sane(t radar.Target) bool {
	for _, v := range [...]float64{t.Range, t.SpeedRadial, t.Azimuth, t.Elevation, t.Power, t.RCS, t.Noise} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if t.Range < 0 {
		return false
	}
	if math.Abs(t.Azimuth) > math.Pi || math.Abs(t.Elevation) > math.Pi/2 {
		return false
	}
	return true
}
