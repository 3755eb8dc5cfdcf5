package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
)

// CommandEntry is one row of the command audit log.
type CommandEntry struct {
	ID       int64  `json:"id"`
	ClientID string `json:"client_id"`
	// Slot is -1, and Category and Request are empty, for unmatched
	// responses.
	Slot      int       `json:"slot"`
	Category  string    `json:"category"`
	Request   string    `json:"request"`
	State     string    `json:"state"`
	Unmatched bool      `json:"unmatched,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// InsertTransition writes one correlator transition.
func (db *DB) InsertTransition(ctx context.Context, tr correlator.Transition) error {
	var status string
	if tr.HasResponse() {
		status = tr.Status.String()
	}
	slot, category, request := tr.Request.Slot, tr.Request.Category.String(), tr.Request.String()
	if tr.Unmatched {
		slot, category, request = -1, "", ""
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO command_log (client_id, slot, category, request, state, unmatched, status, detail, at_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tr.ClientID), slot, category, request,
		tr.State.String(), tr.Unmatched, status, tr.Detail, tr.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to log %s transition for %s: %w", tr.State, tr.ClientID, err)
	}
	return nil
}

// CommandHistory returns the most recent log entries, newest first. A
// non-empty clientID restricts the result to one request.
func (db *DB) CommandHistory(ctx context.Context, clientID string, limit int) ([]CommandEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, client_id, slot, category, request, state, unmatched, status, detail, at_unix_ns
		 FROM command_log WHERE (? = '' OR client_id = ?) ORDER BY id DESC LIMIT ?`,
		clientID, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query command log: %w", err)
	}
	defer rows.Close()

	var out []CommandEntry
	for rows.Next() {
		var e CommandEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Slot, &e.Category, &e.Request, &e.State, &e.Unmatched, &e.Status, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan command log: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CommandLog is a correlator.Recorder that persists transitions from a
// background writer. Record never blocks the correlator; transitions that
// arrive while the queue is full are dropped and counted.
type CommandLog struct {
	db      *DB
	ch      chan correlator.Transition
	dropped atomic.Uint64
}

// NewCommandLog returns a recorder with a queue of size transitions. Run
// must be started for anything to be written.
func NewCommandLog(db *DB, size int) *CommandLog {
	if size <= 0 {
		size = 1024
	}
	return &CommandLog{db: db, ch: make(chan correlator.Transition, size)}
}

// Record queues tr.
func (l *CommandLog) Record(tr correlator.Transition) {
	select {
	case l.ch <- tr:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("command log queue full, %d transitions dropped", n)
		}
	}
}

// Dropped returns how many transitions were discarded.
func (l *CommandLog) Dropped() uint64 { return l.dropped.Load() }

// Run writes queued transitions until ctx is done, then drains what is
// already queued.
func (l *CommandLog) Run(ctx context.Context) {
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case tr := <-l.ch:
			l.write(wctx, tr)
		case <-ctx.Done():
			for {
				select {
				case tr := <-l.ch:
					l.write(wctx, tr)
				default:
					return
				}
			}
		}
	}
}

func (l *CommandLog) write(ctx context.Context, tr correlator.Transition) {
	if err := l.db.InsertTransition(ctx, tr); err != nil {
		monitoring.Logf("%v", err)
	}
}
