package httpx

import (
	"net/http"
	"time"

	"github.com/contentops/jobcore/internal/core"
)

// TypeHandlers serves the registered job definitions.
type TypeHandlers struct {
	Registry *core.Registry
}

type jobTypeView struct {
	Type           string `json:"type"`
	Every          string `json:"every,omitempty"`
	Cron           string `json:"cron,omitempty"`
	MultiTenant    bool   `json:"multi_tenant"`
	MaxConcurrency int    `json:"max_concurrency"`
	StaleAfter     string `json:"stale_after,omitempty"`
	AllowOverlap   bool   `json:"allow_overlap"`
}

// List returns every registered job type with its scheduling posture.
func (h *TypeHandlers) List(w http.ResponseWriter, _ *http.Request) {
	defs := h.Registry.Definitions()
	views := make([]jobTypeView, 0, len(defs))
	for _, def := range defs {
		views = append(views, jobTypeView{
			Type:           string(def.Type),
			Every:          formatDuration(def.Every),
			Cron:           def.Cron,
			MultiTenant:    def.MultiTenant,
			MaxConcurrency: def.Slots(),
			StaleAfter:     formatDuration(def.StaleAfter),
			AllowOverlap:   def.AllowOverlap,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job_types": views})
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
