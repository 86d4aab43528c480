package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/store"
)

// bounceVisitMaxLength is the visit length, in seconds, below which a
// visit counts as a bounce.
const bounceVisitMaxLength = 5

type analyticsRequest struct {
	FromTime time.Time `json:"from_time"`
	ToTime   time.Time `json:"to_time"`
}

type versionStats struct {
	Name            string  `json:"name"`
	AverageRequests float32 `json:"average_requests"`
	AverageDuration uint32  `json:"average_duration"`
	BounceRate      float32 `json:"bounce_rate"`
	VisitCount      int     `json:"visit_count"`
}

type analyticsResponse struct {
	TotalVisitCount int            `json:"total_visit_count"`
	VersionsStats   []versionStats `json:"versions_stats"`
}

// handleAnalytics reports per-version average request count, average
// visit duration, bounce rate, and visit count over a time window.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	var req analyticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	visits, err := s.store.GetVisits(r.Context(), req.FromTime.Unix(), req.ToTime.Unix())
	if err != nil {
		applog.Error("unable to get visits: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsResponse(visits))
}

func toAnalyticsResponse(visits []store.Visit) analyticsResponse {
	byVersion := make(map[string]*versionStats)
	var order []string
	for _, v := range visits {
		stats, ok := byVersion[v.Version]
		if !ok {
			stats = &versionStats{Name: v.Version}
			byVersion[v.Version] = stats
			order = append(order, v.Version)
		}
		stats.AverageRequests += float32(v.RequestCount)
		length := v.LastRequestTime - v.FirstRequestTime
		stats.AverageDuration += uint32(length)
		if length < bounceVisitMaxLength {
			stats.BounceRate++
		}
		stats.VisitCount++
	}
	sort.Strings(order)

	out := make([]versionStats, 0, len(order))
	for _, name := range order {
		stats := byVersion[name]
		count := float32(stats.VisitCount)
		stats.AverageRequests /= count
		stats.AverageDuration = uint32(float32(stats.AverageDuration) / count)
		stats.BounceRate = 100.0 * (stats.BounceRate / count)
		out = append(out, *stats)
	}
	return analyticsResponse{TotalVisitCount: len(visits), VersionsStats: out}
}

type versionEventPercent struct {
	Version string  `json:"version"`
	Percent float32 `json:"percent"`
}

type eventPercentCounts struct {
	Event    string                `json:"event"`
	Percents []versionEventPercent `json:"percents"`
}

type eventsStatsResponse struct {
	EventsPercentList []eventPercentCounts `json:"events_percent_list"`
}

// handleEventStats reports, for each custom event name, what percentage
// of each version's visits triggered it.
func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	from, to, ok := parseTimeRange(w, r)
	if !ok {
		return
	}
	stats, err := s.store.GetEventStats(r.Context(), from, to)
	if err != nil {
		applog.Error("unable to get event stats: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	eventNames := make([]string, 0, len(stats.CountByEventThenVersion))
	for name := range stats.CountByEventThenVersion {
		eventNames = append(eventNames, name)
	}
	sort.Strings(eventNames)

	list := make([]eventPercentCounts, 0, len(eventNames))
	for _, name := range eventNames {
		counts := stats.CountByEventThenVersion[name]
		percents := make([]versionEventPercent, 0, len(stats.TotalVisitsByVersion))
		for _, vc := range stats.TotalVisitsByVersion {
			var percent float32
			if vc.Count > 0 {
				percent = 100.0 * float32(counts[vc.Version]) / float32(vc.Count)
			}
			percents = append(percents, versionEventPercent{Version: vc.Version, Percent: percent})
		}
		list = append(list, eventPercentCounts{Event: name, Percents: percents})
	}
	writeJSON(w, http.StatusOK, eventsStatsResponse{EventsPercentList: list})
}

// handleEventsCSV streams every event in the requested window as CSV.
func (s *Server) handleEventsCSV(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	from, to, ok := parseTimeRange(w, r)
	if !ok {
		return
	}
	events, err := s.store.GetEvents(r.Context(), from, to)
	if err != nil {
		applog.Error("unable to get events: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=events.csv")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "id,time,event,version,visitor,params,path,payload\r\n")
	flusher, _ := w.(http.Flusher)
	for _, e := range events {
		ts := time.Unix(e.Time, 0).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%d,%s,%s,%s,%d,%s,%s,%s\r\n",
			e.ID, ts, e.Name, e.Version, e.Visitor.Int64(), e.Params, e.Path, e.Payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func parseTimeRange(w http.ResponseWriter, r *http.Request) (from, to int64, ok bool) {
	fromStr := r.URL.Query().Get("from_time")
	toStr := r.URL.Query().Get("to_time")
	fromT, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		http.Error(w, "invalid from_time", http.StatusBadRequest)
		return 0, 0, false
	}
	toT, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		http.Error(w, "invalid to_time", http.StatusBadRequest)
		return 0, 0, false
	}
	return fromT.Unix(), toT.Unix(), true
}
