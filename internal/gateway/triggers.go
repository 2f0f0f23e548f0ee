package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ferrant/reverie/internal/jobguard"
)

// TriggerResponse is the JSON response for POST /jobs/*. The HTTP status
// is always 200; outcome discrimination lives in the status field so
// external schedulers never retry on transport-level signals.
type TriggerResponse struct {
	Status string         `json:"status"` // ok, error, or skipped
	Job    string         `json:"job"`
	Counts map[string]any `json:"counts,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// handleTrigger returns the handler for one named job trigger.
func (g *Gateway) handleTrigger(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		outcome := g.runner.Run(r.Context(), job)
		g.metrics.RecordTrigger(job, outcome.Status, time.Since(started))

		resp := TriggerResponse{
			Status: outcome.Status,
			Job:    job,
			Counts: outcome.Counts,
		}
		if outcome.Err != nil {
			resp.Error = outcome.Err.Error()
			g.logger.Error("job trigger failed", "job", job, "error", outcome.Err)
		}
		if outcome.Status != jobguard.OutcomeSkipped {
			g.events.Publish(resp)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
