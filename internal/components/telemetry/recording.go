package telemetry

import (
	"strings"
	"sync"
)

type Report struct {
	Level  string
	ID     string
	Params []any
}

// RecordingAPI keeps every report in memory, tests use it to assert that a
// failure was reported (or wasn't).
type RecordingAPI struct {
	mu      sync.Mutex
	reports []Report
	counts  map[string]int64
}

func (r *RecordingAPI) record(level, id string, params []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Level: level, ID: id, Params: params})
}

func (r *RecordingAPI) ReportBroken(id string, params ...any) {
	r.record("broken", id, params)
}

func (r *RecordingAPI) ReportWarning(id string, params ...any) {
	r.record("warning", id, params)
}

func (r *RecordingAPI) ReportDebug(msg string, params ...any) {
	r.record("debug", msg, params)
}

func (r *RecordingAPI) ReportCount(id string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[id] = count
}

// Reports returns the recorded reports of the given level ("broken", "warning"
// or "debug") whose id ends with suffix.
func (r *RecordingAPI) Reports(level, suffix string) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if rep.Level == level && strings.HasSuffix(rep.ID, suffix) {
			out = append(out, rep)
		}
	}
	return out
}

// Count returns the last count reported for the id ending with suffix.
func (r *RecordingAPI) Count(suffix string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, n := range r.counts {
		if strings.HasSuffix(id, suffix) {
			return n, true
		}
	}
	return 0, false
}
