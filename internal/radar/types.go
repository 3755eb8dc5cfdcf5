package radar

import (
	"fmt"
	"time"
)

const (
	// MaxSensorCount is the number of sensor slots.
	MaxSensorCount = 10
	// MaxHwCount is the number of hardware adapter slots.
	MaxHwCount = 6
)

// ValidSlot reports whether slot indexes a sensor slot.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < MaxSensorCount
}

// PayloadKind distinguishes the two telemetry payload classes a sensor
// family can emit.
type PayloadKind uint8

const (
	// KindTargetList is the full per-target attribute list.
	KindTargetList PayloadKind = 0x42
	// KindCANTargetBaseList is the reduced, lower-rate CAN list.
	KindCANTargetBaseList PayloadKind = 0x43
)

func (k PayloadKind) String() string {
	switch k {
	case KindTargetList:
		return "target_list"
	case KindCANTargetBaseList:
		return "can_target_base_list"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Target is one detection in canonical units: metres, metres per second,
// radians and dB. Targets decoded from a CAN base list carry zero
// Elevation, Power and Noise.
type Target struct {
	ID          uint32
	Range       float64
	SpeedRadial float64
	Azimuth     float64
	Elevation   float64
	Power       float64
	RCS         float64
	Noise       float64
}

// Point is a target projected into the sensor frame (X forward, Y left,
// Z up). Intensity carries the target's reflected power.
type Point struct {
	X           float64
	Y           float64
	Z           float64
	Intensity   float64
	Range       float64
	SpeedRadial float64
	RCS         float64
	Noise       float64
}

// PointSet is one sensor's points for one acquisition cycle. A published
// set is never mutated.
type PointSet struct {
	Slot        int
	FrameID     string
	HistorySize uint32
	Kind        PayloadKind
	Cycle       uint32
	Timestamp   time.Time
	Points      []Point
}

// Clone returns a deep copy of the set.
func (s PointSet) Clone() PointSet {
	out := s
	if s.Points != nil {
		out.Points = make([]Point, len(s.Points))
		copy(out.Points, s.Points)
	}
	return out
}

// Topic is the per-slot output name the set is published under.
func (s PointSet) Topic() string {
	return fmt.Sprintf("umrr/targets_%d", s.Slot)
}

// ClientID is the opaque correlation token a transport issues per request
// and returns on the matching response. It is only ever compared.
type ClientID string

// Category selects the continuation shape for a request.
type Category int

const (
	CategoryMode Category = iota
	CategoryIP
	CategoryCommand
)

func (c Category) String() string {
	switch c {
	case CategoryMode:
		return "mode"
	case CategoryIP:
		return "ip"
	case CategoryCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "mode":
		return CategoryMode, nil
	case "ip":
		return CategoryIP, nil
	case "command":
		return CategoryCommand, nil
	}
	return 0, fmt.Errorf("unknown request category %q", s)
}

// Request is the originating payload of an outstanding command.
type Request struct {
	Slot     int
	Category Category
	// Name is the instruction (mode) or command name. Unused for CategoryIP.
	Name  string
	Value int64
	// Address is the new sensor address for CategoryIP.
	Address string
}

func (r Request) String() string {
	switch r.Category {
	case CategoryIP:
		return fmt.Sprintf("slot=%d ip=%s", r.Slot, r.Address)
	default:
		return fmt.Sprintf("slot=%d %s %s=%d", r.Slot, r.Category, r.Name, r.Value)
	}
}

// ResponseStatus is the device's verdict on a request.
type ResponseStatus uint8

const (
	StatusOK ResponseStatus = iota
	StatusRejected
	StatusUnknownInstruction
	StatusOutOfRange
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusUnknownInstruction:
		return "unknown_instruction"
	case StatusOutOfRange:
		return "out_of_range"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Response is a device acknowledgement delivered out of band.
type Response struct {
	ClientID ClientID
	Status   ResponseStatus
	Detail   string
}

// OK reports whether the device accepted the request.
func (r Response) OK() bool { return r.Status == StatusOK }

// Ack is the synchronous result of a service operation. It only reflects
// whether the request was issued, never the device's eventual answer.
type Ack struct {
	Accepted bool
	Reason   string
	ClientID ClientID
}
