// Package metrics registers the coordinator's Prometheus counters directly
// through client_golang; no transport-layer metrics bridge sits in front of
// it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksCreated counts tasks minted, labeled by task_type.
	TasksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meesignd",
		Name:      "tasks_created_total",
		Help:      "Number of tasks created, by task type.",
	}, []string{"task_type"})

	// TasksFinished counts tasks that reached the Finished state.
	TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meesignd",
		Name:      "tasks_finished_total",
		Help:      "Number of tasks finished, by task type.",
	}, []string{"task_type"})

	// TasksFailed counts tasks that reached the Failed state.
	TasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meesignd",
		Name:      "tasks_failed_total",
		Help:      "Number of tasks failed, by task type.",
	}, []string{"task_type"})

	// RoundsAdvanced counts protocol round advances across all tasks.
	RoundsAdvanced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meesignd",
		Name:      "protocol_rounds_advanced_total",
		Help:      "Number of protocol round advances across all tasks.",
	})

	// TasksRestarted counts Timer-triggered restarts.
	TasksRestarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meesignd",
		Name:      "tasks_restarted_total",
		Help:      "Number of tasks restarted by the stall timer.",
	})
)

func init() {
	prometheus.MustRegister(TasksCreated, TasksFinished, TasksFailed, RoundsAdvanced, TasksRestarted)
}
