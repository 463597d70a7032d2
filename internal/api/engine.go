package api

import (
	"net/http"

	"github.com/nerrad567/keyrunner/internal/automation"
)

// handleEngineStatus returns the engine state and active run progress.
func (s *Server) handleEngineStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleEngineStop stops the active run and waits for the worker, bounded
// by the engine stop timeout. Stopping an idle engine is not an error.
func (s *Server) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleTemplates returns the predefined combinations and common key names
// for building plans.
func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	templates := automation.CombinationTemplates()
	combos := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		combos = append(combos, map[string]any{
			"name":   t.Name,
			"keys":   t.Keys,
			"action": t.Action(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"combinations": combos,
		"keys":         automation.CommonKeys(),
		"action_types": automation.AllActionTypes(),
	})
}
