package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/European-XFEL/imageProcessor/internal/pipeline"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTimingChart renders a bar chart of per-stage average processing
// times from the latest counter snapshot.
func (ws *WebServer) handleTimingChart(w http.ResponseWriter, r *http.Request) {
	snap := ws.sampler.Latest()
	if snap == nil || len(snap.StageMicros) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no timing data sampled yet")
		return
	}

	// Stable stage order regardless of which stages ran.
	x := make([]string, 0, len(pipeline.StageOrder))
	y := make([]opts.BarData, 0, len(pipeline.StageOrder))
	for _, stage := range pipeline.StageOrder {
		us, ok := snap.StageMicros[stage]
		if !ok {
			continue
		}
		x = append(x, stage)
		y = append(y, opts.BarData{Value: us})
	}
	if len(x) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no timing data sampled yet")
		return
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Stage Timings (µs)", Subtitle: snap.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("avg µs", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleProfileChart renders the latest axis projection as a line chart
// with the fitted curve overlaid when a fit ran.
// Query params: axis ("x" default, or "y").
func (ws *WebServer) handleProfileChart(w http.ResponseWriter, r *http.Request) {
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

	x := make([]string, len(profile))
	data := make([]opts.LineData, len(profile))
	for i, v := range profile {
		x[i] = fmt.Sprintf("%d", i)
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Beam Profile", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s projection", axis),
			Subtitle: fmt.Sprintf("frame=%dx%d ts=%s", out.Width, out.Height, out.Time.UTC().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("profile", data)

	if fitted != nil {
		fd := make([]opts.LineData, len(fitted))
		for i, v := range fitted {
			fd[i] = opts.LineData{Value: v}
		}
		line.AddSeries("fit", fd, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// profileAndFit selects the requested projection from an output record
// and, when the matching 1D fit found a solution, evaluates its curve
// over the profile's sample points.
func profileAndFit(out *pipeline.Output, axis string) (profile, fitted []float64, err error) {
	switch axis {
	case "x":
		profile = out.XProfile
		if out.FitX != nil && out.FitX.Status.SolutionFound() {
			fitted = out.FitX.Curve1D(len(profile))
		}
	case "y":
		profile = out.YProfile
		if out.FitY != nil && out.FitY.Status.SolutionFound() {
			fitted = out.FitY.Curve1D(len(profile))
		}
	default:
		return nil, nil, fmt.Errorf("unknown axis %q (want x or y)", axis)
	}
	return profile, fitted, nil
}
