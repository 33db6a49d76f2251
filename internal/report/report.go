// Package report renders run summaries as text, JSON, HTML or a terminal table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/harrow/internal/review"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary describes the outcome of one business run.
type Summary struct {
	RunID        string         `json:"run_id"`
	Business     string         `json:"business"`
	Locality     string         `json:"locality"`
	DisplayName  string         `json:"display_name,omitempty"`
	CanonicalURL string         `json:"canonical_url,omitempty"`
	Source       string         `json:"source,omitempty"`
	Similarity   float64        `json:"similarity"`
	PagesFetched int            `json:"pages_fetched"`
	PagesSkipped int            `json:"pages_skipped"`
	Stop         string         `json:"stop,omitempty"`
	RawReviews   int            `json:"raw_reviews"`
	Matched      int            `json:"matched_reviews"`
	Unrated      int            `json:"unrated"`
	ByStrategy   map[string]int `json:"by_strategy"`
	ByKeyword    map[string]int `json:"by_keyword"`
	MatchedPath  string         `json:"matched_path,omitempty"`
	AllPath      string         `json:"all_path,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Duration     time.Duration  `json:"duration"`
}

// GenerateSummary counts raw and matched reviews. Run metadata is filled in
// by the caller.
func GenerateSummary(raw []review.RawReview, matched []review.FilteredReview) Summary {
	s := Summary{
		ByStrategy: make(map[string]int),
		ByKeyword:  make(map[string]int),
		RawReviews: len(raw),
		Matched:    len(matched),
	}

	for _, r := range raw {
		s.ByStrategy[r.Strategy]++
		if r.Rating == nil {
			s.Unrated++
		}
	}
	for _, r := range matched {
		for _, k := range r.MatchedKeywords {
			s.ByKeyword[k]++
		}
	}
	return s
}

// Finish stamps the end time and duration.
func (s *Summary) Finish(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Harrow Run Summary
------------------
Business:      {{.Business}} ({{.Locality}})
{{- if .CanonicalURL}}
Target:        {{.DisplayName}} <{{.CanonicalURL}}> via {{.Source}}
{{- end}}
Duration:      {{.Duration}}
Pages:         {{.PagesFetched}} fetched, {{.PagesSkipped}} skipped{{if .Stop}} (stop: {{.Stop}}){{end}}
Reviews:       {{.RawReviews}} raw, {{.Matched}} matched, {{.Unrated}} unrated
{{- if .Error}}
Error:         {{.Error}}
{{- end}}

Strategies:
{{- range $name, $count := .ByStrategy}}
  {{$name}}: {{$count}}
{{- else}}
  None
{{- end}}

Keywords:
{{- range $kw, $count := .ByKeyword}}
  {{$kw}}: {{$count}}
{{- else}}
  None
{{- end}}
{{- if .MatchedPath}}

Output:        {{.MatchedPath}}
{{- end}}
{{- if .AllPath}}
               {{.AllPath}}
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Harrow Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>{{.Business}} ({{.Locality}})</h1>
  {{- if .CanonicalURL}}
  <p><strong>Target:</strong> <a href="{{.CanonicalURL}}">{{.DisplayName}}</a> via {{.Source}}</p>
  {{- end}}
  <p><strong>Run:</strong> {{.RunID}} ({{.Duration}})</p>
  {{- if .Error}}
  <p style="color: red;">{{.Error}}</p>
  {{- end}}

  <div class="stat-card">
    <div>Pages</div>
    <div class="stat-val">{{.PagesFetched}}</div>
  </div>
  <div class="stat-card">
    <div>Raw Reviews</div>
    <div class="stat-val">{{.RawReviews}}</div>
  </div>
  <div class="stat-card">
    <div>Matched</div>
    <div class="stat-val" style="color: {{if gt .Matched 0}}green{{else}}gray{{end}};">{{.Matched}}</div>
  </div>

  <h3>Reviews By Strategy</h3>
  <table>
    <tr><th>Strategy</th><th>Count</th></tr>
    {{- range $name, $count := .ByStrategy}}
    <tr><td>{{$name}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Matches By Keyword</h3>
  <table>
    <tr><th>Keyword</th><th>Count</th></tr>
    {{- range $kw, $count := .ByKeyword}}
    <tr><td>{{$kw}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteTable renders one row per summary, sorted by business name.
func WriteTable(w io.Writer, summaries []Summary) {
	sorted := make([]Summary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Business < sorted[j].Business })

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Business", "Locality", "Source", "Pages", "Stop", "Raw", "Matched", "Error"})
	var raw, matched int
	for _, s := range sorted {
		t.AppendRow(table.Row{s.Business, s.Locality, s.Source, s.PagesFetched, s.Stop, s.RawReviews, s.Matched, s.Error})
		raw += s.RawReviews
		matched += s.Matched
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", raw, matched, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
