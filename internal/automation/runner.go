package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/keyrunner/internal/infrastructure/mqtt"
)

const (
	// maxRecordedFailures caps Run.Failures; counters keep counting.
	maxRecordedFailures = 100

	// recordTimeout bounds run log writes made from the worker.
	recordTimeout = 5 * time.Second

	// MetricsMeasurement is the InfluxDB measurement for run summaries.
	MetricsMeasurement = "keyrunner_run"
)

// Hub channels the engine broadcasts on.
const (
	EventRunStarted  = "run.started"
	EventRunProgress = "run.progress"
	EventRunStopped  = "run.stopped"
)

// execute is the worker body. It walks the plan and always finishes the
// run, even if a collaborator panics.
func (e *Engine) execute(ar *activeRun) {
	defer e.finish(ar)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("run worker panicked", "run_id", ar.run.ID, "panic", fmt.Sprint(r))
		}
	}()

	e.recordStart(ar)

	plan := ar.plan
	total := plan.TotalSteps()
	if total <= 0 {
		e.reportProgress(ar, 100, "no sequences to run")
		return
	}

	seqCount := len(plan.Sequences)
	for round := range plan.RepeatCount {
		if ar.stopRequested() {
			break
		}

		for idx := range plan.Sequences {
			if ar.stopRequested() {
				break
			}

			e.runSequence(ar, round, idx, &plan.Sequences[idx])

			if !ar.stopRequested() {
				ar.mu.Lock()
				ar.run.SequencesCompleted++
				ar.mu.Unlock()
			}

			step := round*seqCount + idx + 1
			e.reportProgress(ar, float64(step)/float64(total)*100,
				fmt.Sprintf("round %d/%d, sequence %d/%d", round+1, plan.RepeatCount, idx+1, seqCount))
		}

		if ar.stopRequested() {
			break
		}
		ar.mu.Lock()
		ar.run.RoundsCompleted++
		ar.mu.Unlock()

		if round < plan.RepeatCount-1 {
			e.wait(ar.ctx, plan.RepeatIntervalDuration())
		}
	}
}

// runSequence replays one sequence Count times. With RandomOrder the
// actions are shuffled once here and that order is reused for every
// repetition.
func (e *Engine) runSequence(ar *activeRun, round, idx int, seq *Sequence) {
	actions := seq.Actions
	if seq.RandomOrder && len(actions) > 1 {
		actions = slices.Clone(actions)
		e.rng.Shuffle(len(actions), func(i, j int) {
			actions[i], actions[j] = actions[j], actions[i]
		})
	}

	interval := seq.IntervalDuration()
	for range seq.Count {
		if ar.stopRequested() {
			return
		}
		for _, action := range actions {
			if ar.stopRequested() {
				return
			}
			e.dispatch(ar, round, idx, seq.Name, action)
			e.wait(ar.ctx, e.actionDelay(interval, seq.RandomInterval))
		}
	}
}

// actionDelay returns interval, or a uniform draw from [0.5, 1.5) x interval.
func (e *Engine) actionDelay(interval time.Duration, random bool) time.Duration {
	if !random || interval <= 0 {
		return interval
	}
	return time.Duration(float64(interval) * (0.5 + e.rng.Float64()))
}

// dispatch sends one action. Failures, including injector panics, are
// logged and recorded; they never end the run.
func (e *Engine) dispatch(ar *activeRun, round, idx int, seqName string, action Action) {
	skip, err := e.inject(action)
	if skip != "" {
		e.skipAction(ar, idx, action, skip)
		return
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	if err == nil {
		ar.run.ActionsDispatched++
		return
	}

	ar.run.ActionsFailed++
	if len(ar.run.Failures) < maxRecordedFailures {
		ar.run.Failures = append(ar.run.Failures, ActionFailure{
			Round:         round,
			SequenceIndex: idx,
			SequenceName:  seqName,
			ActionType:    action.Type,
			Target:        action.Describe(),
			Error:         err.Error(),
		})
	}
	e.logger.Warn("action dispatch failed",
		"run_id", ar.run.ID,
		"round", round+1,
		"sequence", idx+1,
		"action", action.Describe(),
		"error", err,
	)
}

// inject hands action to the injector. skip is set when the action cannot
// be sent at all; a panic in the injector comes back as ErrInjectorPanic.
func (e *Engine) inject(action Action) (skip string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInjectorPanic, r)
		}
	}()

	switch action.Type {
	case ActionSingle:
		return "", e.injector.PressKey(action.Key)
	case ActionCombination:
		switch len(action.Keys) {
		case 0:
			return "combination has no keys", nil
		case 1:
			return "", e.injector.PressKey(action.Keys[0])
		default:
			return "", e.injector.PressCombination(action.Keys)
		}
	case ActionText:
		return "", e.injector.TypeText(action.Text)
	default:
		return "unknown action type", nil
	}
}

func (e *Engine) skipAction(ar *activeRun, idx int, action Action, reason string) {
	ar.mu.Lock()
	ar.run.ActionsSkipped++
	ar.mu.Unlock()

	e.logger.Warn("action skipped",
		"run_id", ar.run.ID,
		"sequence", idx+1,
		"type", string(action.Type),
		"reason", reason,
	)
}

// reportProgress updates the live status and notifies the reporter and
// the event sinks.
func (e *Engine) reportProgress(ar *activeRun, percent float64, message string) {
	percent = min(max(percent, 0), 100)

	ar.mu.Lock()
	ar.percent = percent
	ar.message = message
	runID := ar.run.ID
	ar.mu.Unlock()

	ar.progress.ReportProgress(percent, message)

	e.logger.Debug("run progress", "run_id", runID, "percent", percent, "message", message)

	event := map[string]any{
		"run_id":   runID,
		"progress": percent,
		"message":  message,
	}
	if e.hub != nil {
		e.hub.Broadcast(EventRunProgress, event)
	}
	e.publish(mqtt.Topics{}.RunProgress(runID), event, false)
}

// recordStart persists the run record and announces the new state.
func (e *Engine) recordStart(ar *activeRun) {
	ar.mu.Lock()
	snapshot := ar.run.DeepCopy()
	ar.mu.Unlock()

	e.logger.Info("run started",
		"run_id", snapshot.ID,
		"plan_id", snapshot.PlanID,
		"plan_name", snapshot.PlanName,
		"sequences", len(ar.plan.Sequences),
		"repeat_count", ar.plan.RepeatCount,
		"source", snapshot.TriggerSource,
	)

	if e.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := e.runs.CreateRun(ctx, snapshot); err != nil {
			e.logger.Error("failed to create run record", "run_id", snapshot.ID, "error", err)
		}
	}

	if e.hub != nil {
		e.hub.Broadcast(EventRunStarted, snapshot)
	}
	e.publishStatus()
}

// finish closes the run record, returns the engine to idle and fires the
// stop callback. It runs exactly once per run.
func (e *Engine) finish(ar *activeRun) {
	completedAt := time.Now().UTC()

	ar.mu.Lock()
	run := ar.run
	run.CompletedAt = &completedAt
	run.DurationMS = completedAt.Sub(run.StartedAt).Milliseconds()
	if ar.stopRequested() {
		run.Status = RunStopped
	} else {
		run.Status = RunCompleted
	}
	snapshot := run.DeepCopy()
	ar.mu.Unlock()

	if e.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := e.runs.UpdateRun(ctx, snapshot); err != nil {
			e.logger.Error("failed to update run record", "run_id", snapshot.ID, "error", err)
		}
		cancel()
	}

	e.logger.Info("run finished",
		"run_id", snapshot.ID,
		"status", snapshot.Status,
		"rounds", snapshot.RoundsCompleted,
		"sequences", snapshot.SequencesCompleted,
		"dispatched", snapshot.ActionsDispatched,
		"failed", snapshot.ActionsFailed,
		"skipped", snapshot.ActionsSkipped,
		"duration_ms", snapshot.DurationMS,
	)

	if e.hub != nil {
		e.hub.Broadcast(EventRunStopped, snapshot)
	}
	e.publish(mqtt.Topics{}.RunStopped(snapshot.ID), snapshot, false)
	e.writeMetrics(snapshot)

	e.mu.Lock()
	e.active = nil
	e.state.Store(int32(StateIdle))
	callback := e.onStopped
	e.mu.Unlock()

	ar.cancel()
	e.publishStatus()

	if callback != nil {
		callback()
	}
	close(ar.done)
}

// writeMetrics sends the run summary to the metrics sink.
func (e *Engine) writeMetrics(run *Run) {
	if e.metrics == nil {
		return
	}

	tags := map[string]string{
		"status": string(run.Status),
	}
	if run.PlanName != "" {
		tags["plan"] = run.PlanName
	}
	if run.TriggerSource != "" {
		tags["source"] = run.TriggerSource
	}

	e.metrics.WritePointWithTime(MetricsMeasurement, tags, map[string]any{
		"rounds_completed":    int64(run.RoundsCompleted),
		"sequences_completed": int64(run.SequencesCompleted),
		"actions_dispatched":  int64(run.ActionsDispatched),
		"actions_failed":      int64(run.ActionsFailed),
		"actions_skipped":     int64(run.ActionsSkipped),
		"duration_ms":         run.DurationMS,
	}, *run.CompletedAt)
}

// publishStatus publishes the retained engine status.
func (e *Engine) publishStatus() {
	if e.mqtt == nil {
		return
	}
	e.publish(mqtt.Topics{}.EngineStatus(), e.Status(), true)
}

// publish marshals payload and sends it at QoS 1. Errors are logged.
func (e *Engine) publish(topic string, payload any, retained bool) {
	if e.mqtt == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshalling event", "topic", topic, "error", err)
		return
	}
	if err := e.mqtt.Publish(topic, data, 1, retained); err != nil {
		e.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}
