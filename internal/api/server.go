// Package api serves the bridge's HTTP status surface: sensor and point set
// status as JSON, command submission, the command audit log, prometheus
// metrics and a point-cloud debug chart.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/umrr-bridge/internal/db"
	"github.com/banshee-data/umrr-bridge/internal/httputil"
	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/units"
	"github.com/banshee-data/umrr-bridge/internal/version"
)

// Bridge is the part of the Dispatcher the HTTP surface reads and drives.
type Bridge interface {
	Registry() *registry.Registry
	Latest(slot int) (radar.PointSet, bool)
	Outstanding() int
	SetMode(slot int, instruction string, value int64) (radar.Ack, error)
	SetIP(slot int, address string) (radar.Ack, error)
	SendCommand(slot int, command string, value int64) (radar.Ack, error)
}

// Store is the persisted state the status routes report. *db.DB satisfies
// it.
type Store interface {
	CommandHistory(ctx context.Context, clientID string, limit int) ([]db.CommandEntry, error)
	RoutingTable(ctx context.Context) ([]registry.Route, error)
	HardwareInventory(ctx context.Context) ([]registry.HWConfig, error)
}

type Server struct {
	bridge  Bridge
	store   Store
	metrics *monitoring.Metrics
}

// NewServer returns a server over b. store and m may be nil; their routes
// then answer 503 and 404 respectively.
func NewServer(b Bridge, store Store, m *monitoring.Metrics) *Server {
	return &Server{bridge: b, store: store, metrics: m}
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/sensors", s.listSensors)
	mux.HandleFunc("GET /api/sensors/{slot}/points", s.showPoints)
	mux.HandleFunc("GET /api/sensors/{slot}/summary", s.showSummary)
	mux.HandleFunc("POST /api/sensors/{slot}/requests", s.submitRequest)
	mux.HandleFunc("GET /api/commands", s.listCommands)
	mux.HandleFunc("GET /api/routing", s.showRouting)
	mux.HandleFunc("GET /api/adapters", s.showAdapters)
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

// SensorStatus is one row of GET /api/sensors.
type SensorStatus struct {
	registry.SensorConfig
	Topic     string    `json:"topic"`
	HasData   bool      `json:"has_data"`
	Cycle     uint32    `json:"cycle,omitempty"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type sensorsResponse struct {
	Sensors     []SensorStatus `json:"sensors"`
	Outstanding int            `json:"outstanding_requests"`
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	resp := sensorsResponse{Sensors: []SensorStatus{}, Outstanding: s.bridge.Outstanding()}
	for _, cfg := range s.bridge.Registry().Sensors() {
		st := SensorStatus{SensorConfig: cfg, Topic: radar.PointSet{Slot: cfg.Slot}.Topic()}
		if set, ok := s.bridge.Latest(cfg.Slot); ok {
			st.HasData = true
			st.Cycle = set.Cycle
			st.Points = len(set.Points)
			st.Timestamp = set.Timestamp
		}
		resp.Sensors = append(resp.Sensors, st)
	}
	httputil.WriteJSONOK(w, resp)
}

// latest resolves the {slot} path value to its most recent point set.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) (radar.PointSet, bool) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid slot %q", r.PathValue("slot")))
		return radar.PointSet{}, false
	}
	if _, err := s.bridge.Registry().Lookup(slot); err != nil {
		httputil.WriteError(w, err)
		return radar.PointSet{}, false
	}
	set, ok := s.bridge.Latest(slot)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("slot %d has not published yet", slot))
		return radar.PointSet{}, false
	}
	return set, true
}

func (s *Server) showPoints(w http.ResponseWriter, r *http.Request) {
	if set, ok := s.latest(w, r); ok {
		httputil.WriteJSONOK(w, set)
	}
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	unit, err := units.Parse(r.URL.Query().Get("units"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if set, ok := s.latest(w, r); ok {
		httputil.WriteJSONOK(w, Summarize(set).InUnits(unit))
	}
}

// RequestBody is the JSON body of POST /api/sensors/{slot}/requests.
type RequestBody struct {
	Category string `json:"category"`
	Name     string `json:"name,omitempty"`
	Value    int64  `json:"value,omitempty"`
	Address  string `json:"address,omitempty"`
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid slot %q", r.PathValue("slot")))
		return
	}
	var body RequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	cat, err := radar.ParseCategory(body.Category)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var ack radar.Ack
	switch cat {
	case radar.CategoryMode:
		ack, err = s.bridge.SetMode(slot, body.Name, body.Value)
	case radar.CategoryIP:
		ack, err = s.bridge.SetIP(slot, body.Address)
	case radar.CategoryCommand:
		ack, err = s.bridge.SendCommand(slot, body.Name, body.Value)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, ack)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	entries, err := s.store.CommandHistory(r.Context(), r.URL.Query().Get("client_id"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []db.CommandEntry{}
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) showRouting(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	routes, err := s.store.RoutingTable(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, routes)
}

func (s *Server) showAdapters(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.WriteJSONOK(w, s.bridge.Registry().Adapters())
		return
	}
	inv, err := s.store.HardwareInventory(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, inv)
}
