package work

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handlers exposes the work processor on the admin API.
type Handlers struct {
	processor *Processor
	registry  *Registry
}

// NewHandlers creates HTTP handlers for the work processor.
func NewHandlers(processor *Processor, registry *Registry) *Handlers {
	return &Handlers{
		processor: processor,
		registry:  registry,
	}
}

// RegisterRoutes registers the work management routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/work", func(r chi.Router) {
		r.Get("/types", h.ListWorkTypes)
		r.Post("/{workType}/execute", h.ExecuteWorkType)
		r.Post("/{workType}/{subject}/execute", h.ExecuteWorkTypeWithSubject)
		r.Post("/trigger", h.TriggerProcessor)
	})
}

// ListWorkTypes returns all registered work types.
func (h *Handlers) ListWorkTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.ByPriority()

	response := make([]map[string]any, 0, len(types))
	for _, wt := range types {
		response = append(response, map[string]any{
			"id":         wt.ID,
			"priority":   wt.Priority.String(),
			"interval":   wt.Interval.String(),
			"depends_on": wt.DependsOn,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ExecuteWorkType manually executes a global work type.
func (h *Handlers) ExecuteWorkType(w http.ResponseWriter, r *http.Request) {
	h.executeNow(w, chi.URLParam(r, "workType"), "")
}

// ExecuteWorkTypeWithSubject manually executes a work type for one subject.
func (h *Handlers) ExecuteWorkTypeWithSubject(w http.ResponseWriter, r *http.Request) {
	h.executeNow(w, chi.URLParam(r, "workType"), chi.URLParam(r, "subject"))
}

func (h *Handlers) executeNow(w http.ResponseWriter, workType, subject string) {
	if err := h.processor.ExecuteNow(workType, subject); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}

// TriggerProcessor wakes the processor to look for eligible work.
func (h *Handlers) TriggerProcessor(w http.ResponseWriter, r *http.Request) {
	h.processor.Trigger()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}
