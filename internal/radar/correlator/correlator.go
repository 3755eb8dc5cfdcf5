// Package correlator matches asynchronous device responses to the requests
// that caused them.
//
// Each outstanding request moves Issued -> Completed when its response
// arrives, or Issued -> Orphaned when it is evicted without one. State is
// sharded by client id so unrelated requests never contend, while Register
// and Resolve for one id share a single critical section.
package correlator

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/timeutil"
)

const shardCount = 32

// State is an outstanding request's lifecycle state.
type State int

const (
	// StateUnknown is reported for ids with no live entry.
	StateUnknown State = iota
	StateIssued
	StateCompleted
	StateOrphaned
	// StateWithdrawn ends a request that never reached the transport.
	StateWithdrawn
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateCompleted:
		return "completed"
	case StateOrphaned:
		return "orphaned"
	case StateWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Continuation receives the outcome of a request exactly once. err is nil
// when a response arrived, radar.ErrRequestExpired when the sweep evicted
// the request and radar.ErrShuttingDown when the correlator closed first.
type Continuation func(req radar.Request, resp radar.Response, err error)

// Transition is reported to the Recorder on every state change.
type Transition struct {
	ClientID radar.ClientID
	Request  radar.Request
	State    State
	At       time.Time
	// Unmatched marks an orphaned response: a response that arrived with no
	// Issued entry. Request is zero for these.
	Unmatched bool
	// Status is set whenever a response was received, that is for
	// Completed and Unmatched transitions.
	Status radar.ResponseStatus
	Detail string
}

// HasResponse reports whether t carries a device response.
func (t Transition) HasResponse() bool {
	return t.State == StateCompleted || t.Unmatched
}

// Recorder observes transitions. Record must not block: Issued transitions
// are reported while the request's shard is locked, so they always reach
// the Recorder before the request's terminal transition.
type Recorder interface {
	Record(Transition)
}

// Policy decides what happens to requests that never see a response.
type Policy struct {
	// TTL is how long a request may stay Issued. Zero keeps requests until
	// a response arrives or the correlator closes.
	TTL time.Duration
	// SweepInterval is how often Run checks for expired requests. Defaults
	// to TTL/4, bounded below by 10ms.
	SweepInterval time.Duration
	// NotifyOnExpiry delivers radar.ErrRequestExpired to the continuation
	// of an evicted request instead of dropping it silently.
	NotifyOnExpiry bool
}

func (p Policy) interval() time.Duration {
	if p.SweepInterval > 0 {
		return p.SweepInterval
	}
	if d := p.TTL / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}

type entry struct {
	req    radar.Request
	issued time.Time
	cont   Continuation
}

type shard struct {
	mu      sync.Mutex
	entries map[radar.ClientID]*entry
}

// Correlator tracks outstanding requests.
type Correlator struct {
	policy   Policy
	clock    timeutil.Clock
	recorder Recorder
	metrics  *monitoring.Metrics
	seed     maphash.Seed

	shards [shardCount]shard

	// gate orders registrations against Close.
	gate   sync.RWMutex
	closed bool

	mu   sync.Mutex
	live int
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the clock used for issue times and the sweep.
func WithClock(c timeutil.Clock) Option { return func(co *Correlator) { co.clock = c } }

// WithRecorder sets the transition recorder.
func WithRecorder(r Recorder) Option { return func(co *Correlator) { co.recorder = r } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option { return func(co *Correlator) { co.metrics = m } }

// New returns a Correlator applying p.
func New(p Policy, opts ...Option) *Correlator {
	c := &Correlator{
		policy: p,
		clock:  timeutil.RealClock{},
		seed:   maphash.MakeSeed(),
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[radar.ClientID]*entry)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Correlator) shardFor(id radar.ClientID) *shard {
	return &c.shards[maphash.String(c.seed, string(id))%shardCount]
}

func (c *Correlator) addLive(n int) {
	c.mu.Lock()
	c.live += n
	live := c.live
	c.mu.Unlock()
	c.metrics.SetOutstanding(live)
}

// Register creates an Issued entry for id. It fails with
// radar.ErrDuplicateClient while id already has one; the existing entry is
// left untouched.
func (c *Correlator) Register(id radar.ClientID, req radar.Request, cont Continuation) error {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closed {
		return radar.ErrShuttingDown
	}
	now := c.clock.Now()
	s := c.shardFor(id)
	s.mu.Lock()
	if _, ok := s.entries[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", radar.ErrDuplicateClient, id)
	}
	s.entries[id] = &entry{req: req, issued: now, cont: cont}
	c.addLive(1)
	c.record(Transition{ClientID: id, Request: req, State: StateIssued, At: now})
	s.mu.Unlock()

	c.metrics.Command(req.Category.String(), monitoring.CommandIssued)
	return nil
}

// Resolve completes the entry for id and invokes its continuation once.
// A response with no Issued entry is classified as orphaned, logged and
// discarded; Resolve reports it as radar.ErrOrphanResponse so the caller
// can count it, but nothing else observes it.
func (c *Correlator) Resolve(id radar.ClientID, resp radar.Response) error {
	s := c.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	now := c.clock.Now()
	if !ok {
		c.metrics.OrphanResponse()
		monitoring.Logf("orphan response client=%s status=%s", id, resp.Status)
		c.record(Transition{ClientID: id, State: StateOrphaned, At: now, Unmatched: true, Status: resp.Status, Detail: resp.Detail})
		return fmt.Errorf("%w: %s", radar.ErrOrphanResponse, id)
	}

	c.addLive(-1)
	c.metrics.Command(e.req.Category.String(), monitoring.CommandCompleted)
	c.record(Transition{ClientID: id, Request: e.req, State: StateCompleted, At: now, Status: resp.Status, Detail: resp.Detail})
	if e.cont != nil {
		e.cont(e.req, resp, nil)
	}
	return nil
}

// Cancel withdraws an Issued entry without invoking its continuation and
// records it as Withdrawn with reason as the detail. It is used when a
// request could not be handed to the transport.
func (c *Correlator) Cancel(id radar.ClientID, reason string) bool {
	s := c.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.addLive(-1)
	c.record(Transition{ClientID: id, Request: e.req, State: StateWithdrawn, At: c.clock.Now(), Detail: reason})
	return true
}

// State reports id's current state. Completed and orphaned entries are
// removed, so only StateIssued and StateUnknown are observable here; the
// Recorder sees the terminal transitions.
func (c *Correlator) State(id radar.ClientID) State {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return StateIssued
	}
	return StateUnknown
}

// Outstanding returns the number of Issued entries.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

type evicted struct {
	id radar.ClientID
	e  *entry
}

// Sweep evicts every entry issued more than TTL before now and returns how
// many it removed. It is a no-op when TTL is zero.
func (c *Correlator) Sweep(now time.Time) int {
	if c.policy.TTL <= 0 {
		return 0
	}
	var out []evicted
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if now.Sub(e.issued) >= c.policy.TTL {
				out = append(out, evicted{id, e})
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
	c.orphan(out, now, radar.ErrRequestExpired, c.policy.NotifyOnExpiry)
	return len(out)
}

func (c *Correlator) orphan(out []evicted, now time.Time, cause error, notify bool) {
	if len(out) == 0 {
		return
	}
	c.addLive(-len(out))
	for _, ev := range out {
		monitoring.Logf("request orphaned client=%s %s: %v", ev.id, ev.e.req, cause)
		c.metrics.Command(ev.e.req.Category.String(), monitoring.CommandOrphaned)
		c.record(Transition{ClientID: ev.id, Request: ev.e.req, State: StateOrphaned, At: now})
		if notify && ev.e.cont != nil {
			ev.e.cont(ev.e.req, radar.Response{ClientID: ev.id}, cause)
		}
	}
}

// Run sweeps on the policy interval until ctx is done. It returns at once
// when TTL is zero.
func (c *Correlator) Run(ctx context.Context) error {
	if c.policy.TTL <= 0 {
		return nil
	}
	tk := c.clock.NewTicker(c.policy.interval())
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tk.C():
			c.Sweep(now)
		}
	}
}

// Close refuses further registrations and orphans every remaining entry.
// Continuations of those entries receive radar.ErrShuttingDown when the
// policy asks for expiry notifications.
func (c *Correlator) Close() {
	c.gate.Lock()
	if c.closed {
		c.gate.Unlock()
		return
	}
	c.closed = true
	c.gate.Unlock()

	var out []evicted
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			out = append(out, evicted{id, e})
		}
		clear(s.entries)
		s.mu.Unlock()
	}
	c.orphan(out, c.clock.Now(), radar.ErrShuttingDown, c.policy.NotifyOnExpiry)
}

func (c *Correlator) record(t Transition) {
	if c.recorder != nil {
		c.recorder.Record(t)
	}
}
