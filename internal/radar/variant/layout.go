package variant

import (
	"encoding/binary"
	"math"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// Envelope framing shared by all variants. Multi-byte header fields use the
// variant's byte order.
const (
	MagicHi    = 'S'
	MagicLo    = 'M'
	HeaderSize = 24

	offPort      = 2
	offFamily    = 3
	offVersion   = 4
	offCount     = 8
	offCycle     = 12
	offTimestamp = 16
)

// MaxRecords bounds the record count field.
const MaxRecords = math.MaxUint16

type encoding uint8

const (
	encU16 encoding = iota
	encI16
	encU32
	encI32
	encF32
)

func (e encoding) width() int {
	switch e {
	case encU16, encI16:
		return 2
	default:
		return 4
	}
}

// field locates one attribute inside a record. canonical = raw*scale.
// A field with present=false is not carried by the layout and decodes to 0.
type field struct {
	present bool
	off     int
	enc     encoding
	scale   float64
}

func at(off int, enc encoding, scale float64) field {
	return field{present: true, off: off, enc: enc, scale: scale}
}

type recordLayout struct {
	size      int
	id        field
	rng       field
	speed     field
	azimuth   field
	elevation field
	power     field
	rcs       field
	noise     field
}

type layout struct {
	tag         Tag
	family      uint8
	version     [3]uint8
	order       binary.ByteOrder
	targetList  recordLayout
	canBaseList *recordLayout
}

func (l *layout) records(kind radar.PayloadKind) *recordLayout {
	switch kind {
	case radar.KindTargetList:
		return &l.targetList
	case radar.KindCANTargetBaseList:
		return l.canBaseList
	}
	return nil
}

const (
	deg      = math.Pi / 180
	centiDeg = deg / 100
	milli    = 1e-3
	centi    = 1e-2
	deci     = 1e-1
	tenthMil = 1e-4
)

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

// layouts is the dispatch table: one entry per variant.
var layouts = map[Tag]*layout{
	UMRRA4V101: {
		tag: UMRRA4V101, family: 0xA4, version: [3]uint8{1, 0, 1}, order: le,
		targetList: recordLayout{
			size: 32,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, 1), elevation: at(16, encF32, 1),
			power: at(20, encF32, 1), rcs: at(24, encF32, 1), noise: at(28, encF32, 1),
		},
		canBaseList: &recordLayout{
			size: 10,
			id:   at(0, encU16, 1), rng: at(2, encU16, centi), azimuth: at(4, encI16, centiDeg),
			speed: at(6, encI16, centi), rcs: at(8, encI16, deci),
		},
	},
	UMRR11: {
		tag: UMRR11, family: 0x11, version: [3]uint8{1, 1, 2}, order: be,
		targetList: recordLayout{
			size: 20,
			id:   at(0, encU16, 1), rng: at(2, encI32, milli), speed: at(6, encI16, centi),
			azimuth: at(8, encI16, tenthMil), elevation: at(10, encI16, tenthMil),
			power: at(12, encU16, deci), rcs: at(14, encI16, deci), noise: at(16, encU16, deci),
		},
		canBaseList: &recordLayout{
			size: 12,
			id:   at(0, encU16, 1), rng: at(2, encI32, milli), azimuth: at(6, encI16, tenthMil),
			speed: at(8, encI16, centi), rcs: at(10, encI16, deci),
		},
	},
	UMRR96: {
		tag: UMRR96, family: 0x96, version: [3]uint8{1, 2, 2}, order: le,
		targetList: recordLayout{
			size: 32,
			id:   at(0, encU16, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, deg), elevation: at(16, encF32, deg),
			power: at(20, encF32, 1), rcs: at(24, encF32, 1), noise: at(28, encF32, 1),
		},
		canBaseList: &recordLayout{
			size: 16,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), azimuth: at(8, encF32, deg),
			speed: at(12, encF32, 1),
		},
	},
	UMRR9FV111: {
		tag: UMRR9FV111, family: 0x9F, version: [3]uint8{1, 1, 1}, order: le,
		targetList: recordLayout{
			size: 28,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, 1), elevation: at(16, encF32, 1),
			rcs: at(20, encF32, 1), power: at(24, encF32, 1),
		},
	},
	UMRR9FV200: {
		tag: UMRR9FV200, family: 0x9F, version: [3]uint8{2, 0, 0}, order: le,
		targetList: recordLayout{
			size: 26,
			id:   at(0, encU16, 1), rng: at(2, encI32, milli), speed: at(6, encI32, milli),
			azimuth: at(10, encI16, centiDeg), elevation: at(12, encI16, centiDeg),
			power: at(14, encI16, centi), rcs: at(16, encI16, centi), noise: at(18, encI16, centi),
		},
	},
	UMRR9FV211: {
		tag: UMRR9FV211, family: 0x9F, version: [3]uint8{2, 1, 1}, order: be,
		targetList: recordLayout{
			size: 32,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, 1), elevation: at(16, encF32, 1),
			rcs: at(20, encF32, 1), noise: at(24, encF32, 1), power: at(28, encF32, 1),
		},
		canBaseList: &recordLayout{
			size: 14,
			id:   at(0, encU16, 1), rng: at(2, encF32, 1), azimuth: at(6, encF32, 1),
			speed: at(10, encF32, 1),
		},
	},
	UMRR9FV221: {
		tag: UMRR9FV221, family: 0x9F, version: [3]uint8{2, 2, 1}, order: be,
		targetList: recordLayout{
			size: 36,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, 1), elevation: at(16, encF32, 1),
			rcs: at(20, encF32, 1), noise: at(24, encF32, 1), power: at(28, encF32, 1),
		},
		canBaseList: &recordLayout{
			size: 16,
			id:   at(0, encU16, 1), rng: at(4, encF32, 1), azimuth: at(8, encF32, 1),
			speed: at(12, encF32, 1),
		},
	},
	UMRR9DV103: {
		tag: UMRR9DV103, family: 0x9D, version: [3]uint8{1, 0, 3}, order: le,
		targetList: recordLayout{
			size: 18,
			id:   at(0, encU16, 1), rng: at(2, encU16, centi), speed: at(4, encI16, centi),
			azimuth: at(6, encI16, centiDeg), elevation: at(8, encI16, centiDeg),
			power: at(10, encU16, deci), rcs: at(12, encI16, deci), noise: at(14, encU16, deci),
		},
		canBaseList: &recordLayout{
			size: 10,
			id:   at(0, encU16, 1), rng: at(2, encU16, centi), azimuth: at(4, encI16, centiDeg),
			speed: at(6, encI16, centi), rcs: at(8, encI16, deci),
		},
	},
	UMRR9DV122: {
		tag: UMRR9DV122, family: 0x9D, version: [3]uint8{1, 2, 2}, order: le,
		targetList: recordLayout{
			size: 24,
			id:   at(0, encU32, 1), rng: at(4, encI32, milli), speed: at(8, encI32, milli),
			azimuth: at(12, encI16, tenthMil), elevation: at(14, encI16, tenthMil),
			power: at(16, encI16, deci), rcs: at(18, encI16, deci), noise: at(20, encI16, deci),
		},
		canBaseList: &recordLayout{
			size: 14,
			id:   at(0, encU16, 1), rng: at(2, encI32, milli), azimuth: at(6, encI16, tenthMil),
			speed: at(8, encI32, milli), rcs: at(12, encI16, deci),
		},
	},
	UMRRA1V100: {
		tag: UMRRA1V100, family: 0xA1, version: [3]uint8{1, 0, 0}, order: be,
		targetList: recordLayout{
			size: 28,
			id:   at(0, encU32, 1), rng: at(4, encF32, 1), speed: at(8, encF32, 1),
			azimuth: at(12, encF32, deg), elevation: at(16, encF32, deg),
			power: at(20, encF32, 1), rcs: at(24, encF32, 1),
		},
	},
}
