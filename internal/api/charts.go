package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/umrr-bridge/internal/httputil"
)

// AttachAdminRoutes mounts the point-cloud debug chart under the tsweb
// debug mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("umrr-points", "Latest point set per sensor (top-down scatter)", s.handlePointsChart)
	debug.HandleFunc("umrr-ranges", "Range histogram of the latest point set (PNG)", s.handleRangeHistogram)
}

// handlePointsChart renders the latest point set of ?slot= (default 0)
// as a top-down X/Y scatter coloured by radial speed.
func (s *Server) handlePointsChart(w http.ResponseWriter, r *http.Request) {
	slot := 0
	if v := r.URL.Query().Get("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid slot %q", v))
			return
		}
		slot = n
	}
	cfg, err := s.bridge.Registry().Lookup(slot)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	set, ok := s.bridge.Latest(slot)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("slot %d has not published yet", slot))
		return
	}

	data := make([]opts.ScatterData, 0, len(set.Points))
	maxAbs, maxSpeed := 1.0, 1.0
	for _, p := range set.Points {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		maxSpeed = math.Max(maxSpeed, math.Abs(p.SpeedRadial))
		data = append(data, opts.ScatterData{Value: []interface{}{p.Y, p.X, p.SpeedRadial}})
	}
	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "UMRR points", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s (%s)", set.Topic(), cfg.Variant),
			Subtitle: fmt.Sprintf("cycle=%d points=%d frame=%s", set.Cycle, len(set.Points), set.FrameID),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(-maxSpeed),
			Max:        float32(maxSpeed),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#2c7bb6", "#abd9e9", "#ffffbf", "#fdae61", "#d7191c"}},
		}),
	)
	scatter.AddSeries("targets", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
