package api

import (
	"fmt"
	"net/http"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/umrr-bridge/internal/httputil"
)

// histogramBins is the number of range bins in the histogram image.
const histogramBins = 20

// handleRangeHistogram renders the range distribution of ?slot= (default
// 0) as a PNG.
func (s *Server) handleRangeHistogram(w http.ResponseWriter, r *http.Request) {
	slot := 0
	if v := r.URL.Query().Get("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid slot %q", v))
			return
		}
		slot = n
	}
	if _, err := s.bridge.Registry().Lookup(slot); err != nil {
		httputil.WriteError(w, err)
		return
	}
	set, ok := s.bridge.Latest(slot)
	if !ok || len(set.Points) == 0 {
		httputil.NotFound(w, fmt.Sprintf("slot %d has no points", slot))
		return
	}

	ranges := make(plotter.Values, len(set.Points))
	for i, pt := range set.Points {
		ranges[i] = pt.Range
	}
	hist, err := plotter.NewHist(ranges, histogramBins)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to bin ranges: %v", err))
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s cycle %d", set.Topic(), set.Cycle)
	p.X.Label.Text = "range (m)"
	p.Y.Label.Text = "points"
	p.Add(hist)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render histogram: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
