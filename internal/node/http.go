package node

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Stats is the /stats response body.
type Stats struct {
	Service            string `json:"service"`
	PendingCompletions int64  `json:"pendingCompletions"`
	Outstanding        int    `json:"outstanding"`
	Dispatched         int64  `json:"dispatched"`
	QueueDepth         int    `json:"queueDepth"`
	WaitingAcceptances int    `json:"waitingAcceptances"`
}

// Stats returns a snapshot of the node's completion counters.
func (n *Node) Stats() Stats {
	s := Stats{
		Service:            n.cfg.COMMSName,
		PendingCompletions: n.core.Env.DebugStats().PendingBatchCompletions.Count(),
		Outstanding:        n.core.Registry.Len(),
		Dispatched:         n.core.Pump.Dispatched(),
		QueueDepth:         n.core.Queue.Len(),
	}
	if n.srv != nil {
		s.WaitingAcceptances = n.srv.Waiting()
	}
	return s
}

func (n *Node) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", n.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.Stats())
	})
	return mux
}

// handleHealth reports unhealthy while COMMS is disconnected or the pending
// count is above the backlog threshold.
func (n *Node) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending := n.core.Env.DebugStats().PendingBatchCompletions.Count()
		commsOk := n.nc != nil && n.nc.IsConnected()
		backlog := n.cfg.BacklogThreshold > 0 && pending > n.cfg.BacklogThreshold

		status := "healthy"
		code := http.StatusOK
		if !commsOk || backlog {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":  status,
			"comms":   commsOk,
			"backlog": backlog,
			"pending": pending,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
	}
}
