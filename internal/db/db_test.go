package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/radar/variant"
)

func init() {
	monitoring.SetLogger(nil)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.ConfigureAdapter(0, registry.HWConfig{HWDevID: 1, IfaceName: "eth0", Type: "eth", Port: 55555}))
	require.NoError(t, reg.ConfigureAdapter(1, registry.HWConfig{HWDevID: 2, IfaceName: "can0", Type: "can", BaudRate: 500000}))
	require.NoError(t, reg.Configure(0, registry.SensorConfig{SensorID: 100, DevID: 1, IP: "192.168.11.11", Variant: variant.UMRR11}))
	require.NoError(t, reg.Configure(3, registry.SensorConfig{SensorID: 103, DevID: 2, Variant: variant.UMRRA4V101, LinkType: "can"}))
	return reg
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), latest)

	require.NoError(t, db.MigrateDown())
	v, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('command_log') WHERE name='unmatched'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.MigrateDown())
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='command_log'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, v)
}

func TestWriteParamsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	reg := testRegistry(t)
	params := reg.Params(7)

	require.NoError(t, db.WriteParams(ctx, params))

	got, err := db.Params(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(params, got); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}

	master, err := db.MasterClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), master)

	routes, err := db.RoutingTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []registry.Route{
		{ClientID: 100, IP: "192.168.11.11", Port: 55555},
		{ClientID: 103, IP: "127.0.0.1", Port: 55555},
	}, routes)

	inv, err := db.HardwareInventory(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(reg.Adapters(), inv); diff != "" {
		t.Errorf("inventory mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteParamsReplacesPrevious(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.WriteParams(ctx, testRegistry(t).Params(1)))

	reg := registry.New()
	require.NoError(t, reg.Configure(5, registry.SensorConfig{SensorID: 55, Variant: variant.UMRR96}))
	require.NoError(t, db.WriteParams(ctx, reg.Params(2)))

	routes, err := db.RoutingTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []registry.Route{{ClientID: 55, IP: "127.0.0.1", Port: 55555}}, routes)

	inv, err := db.HardwareInventory(ctx)
	require.NoError(t, err)
	assert.Empty(t, inv)
}

func TestWriteParamsRejectsBadAdapterValue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.WriteParams(ctx, testRegistry(t).Params(1)))

	err := db.WriteParams(ctx, []registry.Param{
		{Scope: registry.ScopeMaster, Index: -1, Field: "client_id", Value: "9"},
		{Scope: registry.ScopeAdapter, Index: 0, Field: "baudrate", Value: "fast"},
	})
	require.Error(t, err)

	// The failed write rolled back, so the earlier parameters survive.
	master, err := db.MasterClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), master)
}

func TestMasterClientIDBeforeBootstrap(t *testing.T) {
	_, err := newTestDB(t).MasterClientID(context.Background())
	assert.Error(t, err)
}

func TestCommandHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := radar.Request{Slot: 2, Category: radar.CategoryMode, Name: "Transmit", Value: 1}

	for _, tr := range []correlator.Transition{
		{ClientID: "a", Request: req, State: correlator.StateIssued, At: at},
		{ClientID: "b", Request: radar.Request{Slot: 1, Category: radar.CategoryIP, Address: "10.0.0.9"}, State: correlator.StateIssued, At: at},
		{ClientID: "a", Request: req, State: correlator.StateCompleted, Status: radar.StatusOutOfRange, Detail: "max 1", At: at.Add(time.Second)},
		{ClientID: "b", Request: radar.Request{Slot: 1, Category: radar.CategoryIP, Address: "10.0.0.9"}, State: correlator.StateOrphaned, At: at.Add(2 * time.Second)},
	} {
		require.NoError(t, db.InsertTransition(ctx, tr))
	}

	all, err := db.CommandHistory(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "orphaned", all[0].State)
	assert.Equal(t, "ip", all[0].Category)
	assert.Empty(t, all[0].Status)

	a, err := db.CommandHistory(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, CommandEntry{
		ID: a[0].ID, ClientID: "a", Slot: 2, Category: "mode", Request: req.String(),
		State: "completed", Status: "out_of_range", Detail: "max 1", At: at.Add(time.Second),
	}, a[0])
	assert.Equal(t, "issued", a[1].State)

	limited, err := db.CommandHistory(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCommandLogRecorder(t *testing.T) {
	db := newTestDB(t)
	log := NewCommandLog(db, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		log.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		log.Record(correlator.Transition{ClientID: "x", State: correlator.StateIssued, At: time.Now()})
	}
	require.Eventually(t, func() bool {
		h, err := db.CommandHistory(context.Background(), "x", 10)
		return err == nil && len(h) == 5
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, log.Dropped())
}

func TestCommandLogDropsWhenFull(t *testing.T) {
	log := NewCommandLog(newTestDB(t), 2)
	for i := 0; i < 5; i++ {
		log.Record(correlator.Transition{ClientID: "y"})
	}
	assert.Equal(t, uint64(3), log.Dropped())
}

func TestCommandLogDrainsOnShutdown(t *testing.T) {
	db := newTestDB(t)
	log := NewCommandLog(db, 8)
	log.Record(correlator.Transition{ClientID: "z", State: correlator.StateOrphaned, At: time.Now()})
	log.Record(correlator.Transition{ClientID: "z", State: correlator.StateOrphaned, At: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log.Run(ctx)

	h, err := db.CommandHistory(context.Background(), "z", 10)
	require.NoError(t, err)
	assert.Len(t, h, 2)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}

func TestCommandLogUnmatchedAndWithdrawn(t *testing.T) {
	db := newTestDB(t)
	log := NewCommandLog(db, 8)
	c := correlator.New(correlator.Policy{}, correlator.WithRecorder(log))

	err := c.Resolve("ghost", radar.Response{ClientID: "ghost", Status: radar.StatusRejected, Detail: "busy"})
	require.ErrorIs(t, err, radar.ErrOrphanResponse)

	req := radar.Request{Slot: 2, Category: radar.CategoryMode, Name: "Transmit", Value: 1}
	require.NoError(t, c.Register("w", req, nil))
	require.True(t, c.Cancel("w", "transport queue full"))
	c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log.Run(ctx)

	h, err := db.CommandHistory(context.Background(), "ghost", 10)
	require.NoError(t, err)
	require.Len(t, h, 1)
	got := h[0]
	assert.True(t, got.Unmatched)
	assert.Equal(t, -1, got.Slot)
	assert.Empty(t, got.Category)
	assert.Empty(t, got.Request)
	assert.Equal(t, correlator.StateOrphaned.String(), got.State)
	assert.Equal(t, radar.StatusRejected.String(), got.Status)
	assert.Equal(t, "busy", got.Detail)

	h, err = db.CommandHistory(context.Background(), "w", 10)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, correlator.StateWithdrawn.String(), h[0].State)
	assert.Equal(t, correlator.StateIssued.String(), h[1].State)
	assert.False(t, h[0].Unmatched)
	assert.Equal(t, 2, h[0].Slot)
	assert.Equal(t, req.String(), h[0].Request)
	assert.Empty(t, h[0].Status)
	assert.Equal(t, "transport queue full", h[0].Detail)
}
