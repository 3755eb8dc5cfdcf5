package variant

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// Batch is the input to Encode.
type Batch struct {
	Kind      radar.PayloadKind
	Cycle     uint32
	Timestamp time.Time
	Targets   []radar.Target
}

// Encode renders b in tag's wire layout. It is the inverse of Decode up to
// the variant's quantisation and is used by replay tooling, the synthetic
// sensor and tests. Values that do not fit the layout are an error.
func Encode(tag Tag, b Batch) ([]byte, error) {
	l, ok := layouts[tag]
	if !ok {
		return nil, fmt.Errorf("unknown protocol variant %q", tag)
	}
	rec := l.records(b.Kind)
	if rec == nil {
		return nil, fmt.Errorf("%s does not emit %s", tag, b.Kind)
	}
	if len(b.Targets) > MaxRecords {
		return nil, fmt.Errorf("%d targets exceed the %d record limit", len(b.Targets), MaxRecords)
	}

	out := make([]byte, HeaderSize+len(b.Targets)*rec.size)
	out[0], out[1] = MagicHi, MagicLo
	out[offPort] = byte(b.Kind)
	out[offFamily] = l.family
	copy(out[offVersion:], l.version[:])
	l.order.PutUint16(out[offCount:], uint16(len(b.Targets)))
	l.order.PutUint32(out[offCycle:], b.Cycle)
	var ts int64
	if !b.Timestamp.IsZero() {
		ts = b.Timestamp.UnixMicro()
	}
	l.order.PutUint64(out[offTimestamp:], uint64(ts))

	body := out[HeaderSize:]
	for i, t := range b.Targets {
		r := body[i*rec.size : (i+1)*rec.size]
		for _, fv := range [...]struct {
			name string
			f    field
			v    float64
		}{
			{"id", rec.id, float64(t.ID)},
			{"range", rec.rng, t.Range},
			{"speed", rec.speed, t.SpeedRadial},
			{"azimuth", rec.azimuth, t.Azimuth},
			{"elevation", rec.elevation, t.Elevation},
			{"power", rec.power, t.Power},
			{"rcs", rec.rcs, t.RCS},
			{"noise", rec.noise, t.Noise},
		} {
			if err := l.write(r, fv.f, fv.v); err != nil {
				return nil, fmt.Errorf("target %d %s: %w", i, fv.name, err)
			}
		}
	}
	return out, nil
}

func (l *layout) write(b []byte, f field, v float64) error {
	if !f.present {
		return nil
	}
	if f.enc == encF32 {
		l.order.PutUint32(b[f.off:], math.Float32bits(float32(v/f.scale)))
		return nil
	}

	raw := math.Round(v / f.scale)
	var lo, hi float64
	switch f.enc {
	case encU16:
		lo, hi = 0, math.MaxUint16
	case encI16:
		lo, hi = math.MinInt16, math.MaxInt16
	case encU32:
		lo, hi = 0, math.MaxUint32
	case encI32:
		lo, hi = math.MinInt32, math.MaxInt32
	}
	if math.IsNaN(raw) || raw < lo || raw > hi {
		return fmt.Errorf("value %v does not fit the field encoding", v)
	}

	switch f.enc {
	case encU16:
		l.order.PutUint16(b[f.off:], uint16(raw))
	case encI16:
		l.order.PutUint16(b[f.off:], uint16(int16(raw)))
	case encU32:
		l.order.PutUint32(b[f.off:], uint32(raw))
	case encI32:
		l.order.PutUint32(b[f.off:], uint32(int32(raw)))
	}
	return nil
}
