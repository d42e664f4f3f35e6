package web

import (
	"html/template"
	"net/http"
	"time"

	"opscal/internal/grid"
	appLog "opscal/internal/log"
	"opscal/internal/model"
)

// The week page the PDF export prints. It is rendered server-side so the
// headless browser has nothing to execute; data-ready on the body is the
// render-complete signal the capture pipeline waits for.

type calendarPage struct {
	Title string
	Days  []string
	Rows  []calendarRow
}

type calendarRow struct {
	Hour  string
	Cells [][]calendarEntry
}

type calendarEntry struct {
	Time  string
	Title string
	Color string
}

var calendarTmpl = template.Must(template.New("calendar").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 16px; }
h2 { font-size: 16px; margin: 0 0 8px; }
table { border-collapse: collapse; width: 100%; table-layout: fixed; }
th, td { border: 1px solid #ddd; padding: 2px 4px; vertical-align: top; font-size: 11px; text-align: left; }
.hour { width: 46px; color: #666; }
.event { border-radius: 3px; color: #fff; padding: 1px 3px; margin-bottom: 1px; overflow: hidden; }
</style>
</head>
<body data-ready="true">
<h2>{{.Title}}</h2>
<table>
<tr><th class="hour"></th>{{range .Days}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr><td class="hour">{{.Hour}}</td>{{range .Cells}}<td>{{range .}}<div class="event" style="background: {{.Color}}">{{.Time}} {{.Title}}</div>{{end}}</td>{{end}}</tr>
{{end}}</table>
</body>
</html>
`))

// handleCalendar renders the printable week view.
//
// GET /calendar?date=2026-01-05&token=<bearer token>
// Identity comes from the token parameter (or the usual Authorization
// header); without one the page renders an empty grid.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()
	ref := parseDateDefault(r.URL.Query().Get("date"), time.Now(), loc)
	p := grid.NewProjector(ref, loc, s.cfg.WeekStartDay())

	var events []model.CalendarEvent
	if owner, ok := s.identify(r); ok {
		us := s.sessionFor(r.Context(), owner)
		events = us.registry.Apply(us.store.Events())
	}
	week := p.Project(events)

	page := calendarPage{
		Title: "Week of " + week.Days[0].Format("Jan 2, 2006"),
	}
	for _, day := range week.Days {
		page.Days = append(page.Days, day.Format("Mon Jan 2"))
	}
	for h := 0; h < grid.HoursPerDay; h++ {
		row := calendarRow{
			Hour:  time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15:04"),
			Cells: make([][]calendarEntry, 7),
		}
		for d := 0; d < 7; d++ {
			for _, ev := range week.Cells[d][h] {
				row.Cells[d] = append(row.Cells[d], calendarEntry{
					Time:  ev.Start.In(loc).Format("15:04"),
					Title: ev.Title,
					Color: ev.Color,
				})
			}
		}
		page.Rows = append(page.Rows, row)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := calendarTmpl.Execute(w, page); err != nil {
		appLog.Error("failed to render calendar page", err)
	}
}
