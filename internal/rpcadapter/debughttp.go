package rpcadapter

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/meesign/meesignd/internal/coordstate"
	"github.com/meesign/meesignd/log"
)

var debugLogger = log.NewModuleLogger(log.RPCAdapter)

// taskSummary is the JSON shape the debug surface reports per task; it
// intentionally omits device identifiers and raw payloads.
type taskSummary struct {
	ID       string `json:"id"`
	TaskType string `json:"task_type"`
	State    string `json:"state"`
	Round    uint16 `json:"round"`
	Attempt  uint32 `json:"attempt_count"`
}

// NewDebugHandler builds the operator-facing HTTP surface: task listing at
// /tasks and Prometheus scraping at /metrics, wrapped in permissive CORS so
// a local dashboard can poll it directly. It is an always-on operational
// surface distinct from the transport RPC itself.
func NewDebugHandler(state *coordstate.State) http.Handler {
	router := httprouter.New()
	router.GET("/tasks", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		tasks := state.GetTasks()
		out := make([]taskSummary, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskSummary{
				ID:       t.ID(),
				TaskType: t.TaskType().String(),
				State:    t.GetStatus().String(),
				Round:    t.Round(),
				Attempt:  t.GetAttempts(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			debugLogger.Warn("failed to encode task summary", "err", err)
		}
	})
	router.Handler("GET", "/metrics", promhttp.Handler())

	return cors.New(cors.Options{
		AllowedMethods: []string{"GET"},
	}).Handler(router)
}
