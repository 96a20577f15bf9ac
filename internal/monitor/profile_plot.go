package monitor

import (
	"fmt"
	"image/color"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/European-XFEL/imageProcessor/internal/pipeline"
)

// handleProfilePlot renders the latest axis projection (and its fitted
// curve, when available) as a PNG, for embedding in dashboards that
// cannot run the ECharts pages.
// Query params: axis ("x" default, or "y").
func (ws *WebServer) handleProfilePlot(w http.ResponseWriter, r *http.Request) {
	out := ws.LatestOutput()
	if out == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no frame processed yet")
		return
	}

	axis := r.URL.Query().Get("axis")
	if axis == "" {
		axis = "x"
	}
	profile, fitted, err := profileAndFit(out, axis)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(profile) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no projection in latest output")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s projection", axis)
	p.X.Label.Text = "Pixel"
	p.Y.Label.Text = "Integrated intensity"

	profilePts := make(plotter.XYs, len(profile))
	for i, v := range profile {
		profilePts[i] = plotter.XY{X: float64(i), Y: v}
	}
	profileLine, err := plotter.NewLine(profilePts)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("profile line: %v", err))
		return
	}
	profileLine.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	profileLine.Width = vg.Points(1)
	p.Add(profileLine)
	p.Legend.Add("profile", profileLine)

	if fitted != nil {
		fitPts := make(plotter.XYs, len(fitted))
		for i, v := range fitted {
			fitPts[i] = plotter.XY{X: float64(i), Y: v}
		}
		fitLine, err := plotter.NewLine(fitPts)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("fit line: %v", err))
			return
		}
		fitLine.Color = color.RGBA{R: 220, G: 50, B: 47, A: 255}
		fitLine.Width = vg.Points(1)
		fitLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(fitLine)
		p.Legend.Add("fit", fitLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		pipeline.Tracef("profile plot write: %v", err)
	}
}
