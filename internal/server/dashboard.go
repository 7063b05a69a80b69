package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/splitpage/splitpage/internal/stats"
	"go.uber.org/zap"
)

type listData struct {
	Experiments []experimentListItem
}

type experimentListItem struct {
	Name           string
	State          string
	VariantCount   int
	TotalViews     int
	ConversionRate string
	CreatedAt      string
}

type detailData struct {
	Name              string
	State             string
	Winner            string
	CreatedAt         string
	Variants          []detailVariant
	Confident         bool
	ConfidencePercent float64
	Leading           string
}

type detailVariant struct {
	Label          string
	Views          int
	Conversions    int
	RatePercent    float64
	CILowerPercent float64
	CIUpperPercent float64
	Leading        bool
}

const dashboardCSS = `
body { font: 14px/1.5 -apple-system, sans-serif; margin: 2rem auto; max-width: 960px; color: #1a1a2e; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 6px 12px; border-bottom: 1px solid #e0e0e0; }
.state { text-transform: uppercase; font-size: 11px; letter-spacing: 0.05em; }
.leading { font-weight: 600; }
.confident { color: #1b7f3b; }
`

const listTemplate = `<!DOCTYPE html>
<html><head><title>splitpage</title><style>{{.CSS}}</style></head>
<body>
<h1>Experiments</h1>
{{if .Data.Experiments}}
<table>
<tr><th>Name</th><th>State</th><th>Variants</th><th>Views</th><th>Conv. rate</th><th>Created</th></tr>
{{range .Data.Experiments}}
<tr>
  <td><a href="/dashboard/test/{{.Name}}">{{.Name}}</a></td>
  <td class="state">{{.State}}</td>
  <td>{{.VariantCount}}</td>
  <td>{{.TotalViews}}</td>
  <td>{{.ConversionRate}}</td>
  <td>{{.CreatedAt}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No experiments yet. Define them in the config file or run <code>splitpage create</code>.</p>
{{end}}
</body></html>`

const detailTemplate = `<!DOCTYPE html>
<html><head><title>{{.Data.Name}} - splitpage</title><style>{{.CSS}}</style></head>
<body>
<p><a href="/dashboard">&larr; all experiments</a></p>
<h1>{{.Data.Name}}</h1>
<p class="state">{{.Data.State}}{{if .Data.Winner}} &mdash; winner: {{.Data.Winner}}{{end}} &mdash; created {{.Data.CreatedAt}}</p>
<table>
<tr><th>Variant</th><th>Views</th><th>Conversions</th><th>Rate</th><th>95% CI</th></tr>
{{range .Data.Variants}}
<tr{{if .Leading}} class="leading"{{end}}>
  <td>{{.Label}}</td>
  <td>{{.Views}}</td>
  <td>{{.Conversions}}</td>
  <td>{{printf "%.2f" .RatePercent}}%</td>
  <td>[{{printf "%.1f" .CILowerPercent}}%, {{printf "%.1f" .CIUpperPercent}}%]</td>
</tr>
{{end}}
</table>
{{if .Data.Confident}}
<p class="confident">{{printf "%.1f" .Data.ConfidencePercent}}% confident "{{.Data.Leading}}" is the winner.</p>
{{else}}
<p>Not yet significant ({{printf "%.1f" .Data.ConfidencePercent}}% confidence, leading: "{{.Data.Leading}}").</p>
{{end}}
</body></html>`

var (
	listTmpl   = template.Must(template.New("list").Parse(listTemplate))
	detailTmpl = template.Must(template.New("detail").Parse(detailTemplate))
)

type templateData struct {
	CSS  template.CSS
	Data any
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Failed to load experiments", http.StatusInternalServerError)
		return
	}

	items := make([]experimentListItem, len(experiments))
	for i, exp := range experiments {
		variantStats, _ := s.store.GetVariantStats(r.Context(), exp.Name)

		totalViews := 0
		totalConversions := 0
		for _, vs := range variantStats {
			totalViews += vs.Views
			totalConversions += vs.Conversions
		}

		rate := "0%"
		if totalViews > 0 {
			rate = fmt.Sprintf("%.2f%%", float64(totalConversions)/float64(totalViews)*100)
		}

		items[i] = experimentListItem{
			Name:           exp.Name,
			State:          string(exp.State),
			VariantCount:   len(exp.Variants),
			TotalViews:     totalViews,
			ConversionRate: rate,
			CreatedAt:      exp.CreatedAt.Format("Jan 2, 2006"),
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listTmpl.Execute(w, templateData{CSS: dashboardCSS, Data: listData{Experiments: items}}); err != nil {
		s.log.Warn("failed to render dashboard", zap.Error(err))
	}
}

func (s *Server) handleDashboardTest(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/dashboard/test/")
	if name == "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	exp, err := s.store.GetExperiment(r.Context(), name)
	if err != nil {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}

	variantStats, err := s.store.GetVariantStats(r.Context(), name)
	if err != nil {
		http.Error(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}

	result := stats.Analyze(exp, variantStats)

	data := detailData{
		Name:              exp.Name,
		State:             string(exp.State),
		CreatedAt:         exp.CreatedAt.Format("Jan 2, 2006"),
		Confident:         result.Confident,
		ConfidencePercent: result.ConfidenceLevel * 100,
		Leading:           result.Leading,
	}
	if exp.WinnerVariant != nil {
		data.Winner = *exp.WinnerVariant
	}
	for _, v := range result.Variants {
		data.Variants = append(data.Variants, detailVariant{
			Label:          v.Label,
			Views:          v.Views,
			Conversions:    v.Conversions,
			RatePercent:    v.Rate * 100,
			CILowerPercent: v.CILower * 100,
			CIUpperPercent: v.CIUpper * 100,
			Leading:        v.Label == result.Leading,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := detailTmpl.Execute(w, templateData{CSS: dashboardCSS, Data: data}); err != nil {
		s.log.Warn("failed to render experiment detail", zap.Error(err))
	}
}
