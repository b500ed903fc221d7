package httpx

import (
	"io"
	"net/http"
)

const healthResponse = `{"status":"ok","service":"jobcore"}`

// healthHandler answers liveness and readiness probes. It touches no
// backing store; a degraded database surfaces through the job endpoints,
// not through the probe.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Client connection is gone; nothing left to write.
		return
	}
}
