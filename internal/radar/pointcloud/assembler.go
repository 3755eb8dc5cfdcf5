// Package pointcloud turns decoded targets into per-slot point sets.
package pointcloud

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// Sink receives every assembled set. Publish is called with the slot's
// lock held, so calls for one slot arrive in assembly order; it must not
// block for long and must not call back into the Assembler for that slot.
// Ownership of set passes to the sink.
type Sink interface {
	Publish(set radar.PointSet)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(radar.PointSet)

func (f SinkFunc) Publish(set radar.PointSet) { f(set) }

// Frame is the per-batch input to Assemble.
type Frame struct {
	FrameID     string
	HistorySize uint32
	Kind        radar.PayloadKind
	Cycle       uint32
	Timestamp   time.Time
	Targets     []radar.Target
}

type slot struct {
	mu     sync.Mutex
	latest radar.PointSet
	have   bool
	seq    uint64
}

// Assembler owns one output buffer per sensor slot. Slots are independent;
// concurrent calls for one slot are serialised and the last one wins.
type Assembler struct {
	slots [radar.MaxSensorCount]slot
	sink  Sink
}

// NewAssembler returns an Assembler publishing to sink, which may be nil.
func NewAssembler(sink Sink) *Assembler {
	return &Assembler{sink: sink}
}

// Assemble projects f's targets into points, in order, and publishes the
// set for slot. It keeps only the latest set per slot and never merges with
// earlier ones.
func (a *Assembler) Assemble(slotIdx int, f Frame) (radar.PointSet, error) {
	if !radar.ValidSlot(slotIdx) {
		return radar.PointSet{}, fmt.Errorf("%w: %d", radar.ErrUnknownSlot, slotIdx)
	}
	points := make([]radar.Point, len(f.Targets))
	for i, t := range f.Targets {
		points[i] = t.ToPoint()
	}
	set := radar.PointSet{
		Slot:        slotIdx,
		FrameID:     f.FrameID,
		HistorySize: f.HistorySize,
		Kind:        f.Kind,
		Cycle:       f.Cycle,
		Timestamp:   f.Timestamp,
		Points:      points,
	}

	s := &a.slots[slotIdx]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = set
	s.have = true
	s.seq++
	if a.sink != nil {
		a.sink.Publish(set.Clone())
	}
	return set, nil
}

// Latest returns a copy of the most recent set for slot.
func (a *Assembler) Latest(slotIdx int) (radar.PointSet, bool) {
	if !radar.ValidSlot(slotIdx) {
		return radar.PointSet{}, false
	}
	s := &a.slots[slotIdx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		return radar.PointSet{}, false
	}
	return s.latest.Clone(), true
}

// Generation counts the sets assembled for slot.
func (a *Assembler) Generation(slotIdx int) uint64 {
	if !radar.ValidSlot(slotIdx) {
		return 0
	}
	s := &a.slots[slotIdx]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
