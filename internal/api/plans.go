package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/keyrunner/internal/automation"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// TriggerSourceAPI is recorded on runs started over HTTP.
const TriggerSourceAPI = "api"

// isValidationError reports whether err is a plan validation failure.
func isValidationError(err error) bool {
	return errors.Is(err, automation.ErrInvalidPlan) ||
		errors.Is(err, automation.ErrInvalidSequence) ||
		errors.Is(err, automation.ErrInvalidAction) ||
		errors.Is(err, automation.ErrInvalidName)
}

// planID extracts and bounds-checks the {id} URL parameter.
func planID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid plan ID")
		return "", false
	}
	return id, true
}

// handleListPlans returns all stored plans, sorted by name.
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListPlans(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list plans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "count": len(plans)})
}

// handleGetPlan returns a single plan by ID.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	plan, err := s.plans.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to get plan")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handleCreatePlan creates a new plan.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var plan automation.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.plans.CreatePlan(r.Context(), &plan); err != nil {
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		if errors.Is(err, automation.ErrPlanExists) {
			writeConflict(w, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "failed to create plan")
		return
	}

	writeJSON(w, http.StatusCreated, plan)
}

// handleUpdatePlan replaces a plan. The ID in the URL wins over the body.
func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	var plan automation.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	plan.ID = id

	if err := s.plans.UpdatePlan(r.Context(), &plan); err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "failed to update plan")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handleDeletePlan removes a plan by ID.
func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	if err := s.plans.DeletePlan(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to delete plan")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleImportPlan stores a plan document in the file format, replacing a
// stored plan with the same ID.
func (s *Server) handleImportPlan(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}

	plan, err := automation.DecodePlan(data)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if plan.Name == "" {
		plan.Name = "Imported plan"
	}

	if err := s.plans.ImportPlan(r.Context(), plan); err != nil {
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		if errors.Is(err, automation.ErrPlanExists) {
			writeConflict(w, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "failed to import plan")
		return
	}

	writeJSON(w, http.StatusCreated, plan)
}

// handleExportPlan returns a plan in the file format as a download.
func (s *Server) handleExportPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	plan, err := s.plans.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to get plan")
		return
	}

	data, err := automation.EncodePlan(plan)
	if err != nil {
		writeInternalError(w, "failed to encode plan")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", plan.ID+automation.PlanFileExt))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck,gosec // Best-effort write to response
}

// handleRunPlan starts a stored plan. Only one run may be active.
func (s *Server) handleRunPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	plan, err := s.plans.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to get plan")
		return
	}

	runID, err := s.engine.StartRun(plan, nil, TriggerSourceAPI)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrEngineBusy):
			writeConflict(w, ErrCodeEngineBusy, "a run is already active")
		case errors.Is(err, automation.ErrEngineClosed):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine is shutting down")
		default:
			writeInternalError(w, "failed to start run")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  runID,
		"plan_id": plan.ID,
		"status":  "accepted",
		"message": "run started, progress will follow via WebSocket",
	})
}

// parseLimit reads the optional ?limit= query parameter. Zero means the
// repository default.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

// handleListPlanRuns returns run history for one plan, newest first.
func (s *Server) handleListPlanRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := planID(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.plans.GetPlan(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to get plan")
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleListRuns returns recent runs across all plans, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), "", limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one run, including its failure log.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid run ID")
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrRunNotFound) {
			writeNotFound(w, "run not found")
			return
		}
		writeInternalError(w, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
