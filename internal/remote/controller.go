package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/keyrunner/internal/automation"
	"github.com/nerrad567/keyrunner/internal/infrastructure/mqtt"
)

// TriggerSource is recorded on runs started by this package.
const TriggerSource = "mqtt"

// lookupTimeout bounds the plan lookup for one start command.
const lookupTimeout = 5 * time.Second

// Ack statuses.
const (
	AckAccepted = "accepted"
	AckRejected = "rejected"
)

// Error codes carried in a rejected ack.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodePlanNotFound   = "PLAN_NOT_FOUND"
	ErrCodeEngineBusy     = "ENGINE_BUSY"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Broker is the subset of the MQTT client the controller needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// PlanSource resolves plan IDs. Satisfied by *automation.Registry.
type PlanSource interface {
	GetPlan(ctx context.Context, id string) (*automation.Plan, error)
}

// Runner starts and stops runs. Satisfied by *automation.Engine.
type Runner interface {
	StartRun(plan *automation.Plan, progress automation.ProgressReporter, source string) (string, error)
	Stop()
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StartCommand is the payload of a start command.
type StartCommand struct {
	PlanID string `json:"plan_id"`
}

// AckMessage reports the outcome of a command.
type AckMessage struct {
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	PlanID    string    `json:"plan_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Controller translates MQTT commands into engine calls.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	broker Broker
	plans  PlanSource
	runner Runner
	topics mqtt.Topics

	mu         sync.Mutex
	subscribed []string

	logger Logger
}

// New creates a controller. Call Start to subscribe.
func New(broker Broker, plans PlanSource, runner Runner) *Controller {
	return &Controller{
		broker: broker,
		plans:  plans,
		runner: runner,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Start subscribes to the command topics. On failure any subscription
// already made is removed.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subscribed) > 0 {
		return nil
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{c.topics.CommandStart(), c.handleStart},
		{c.topics.CommandStop(), c.handleStop},
	}

	for _, s := range subs {
		if err := c.broker.Subscribe(s.topic, 1, s.handler); err != nil {
			c.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		c.subscribed = append(c.subscribed, s.topic)
	}

	c.logger.Info("remote control listening",
		"start_topic", c.topics.CommandStart(),
		"stop_topic", c.topics.CommandStop(),
	)
	return nil
}

// Stop removes the command subscriptions.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeLocked()
}

func (c *Controller) unsubscribeLocked() {
	for _, topic := range c.subscribed {
		if err := c.broker.Unsubscribe(topic); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	c.subscribed = nil
}

// handleStart looks up the requested plan and starts it.
func (c *Controller) handleStart(_ string, payload []byte) error {
	var cmd StartCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.reject("start", "", ErrCodeInvalidPayload, "payload must be JSON: "+err.Error())
		return fmt.Errorf("parsing start command: %w", err)
	}
	if cmd.PlanID == "" {
		c.reject("start", "", ErrCodeInvalidPayload, "plan_id is required")
		return errors.New("start command missing plan_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	plan, err := c.plans.GetPlan(ctx, cmd.PlanID)
	if err != nil {
		if errors.Is(err, automation.ErrPlanNotFound) {
			c.reject("start", cmd.PlanID, ErrCodePlanNotFound, "plan not found")
		} else {
			c.reject("start", cmd.PlanID, ErrCodeInternal, "failed to load plan")
		}
		return fmt.Errorf("loading plan %s: %w", cmd.PlanID, err)
	}

	runID, err := c.runner.StartRun(plan, nil, TriggerSource)
	if err != nil {
		if errors.Is(err, automation.ErrEngineBusy) {
			c.reject("start", cmd.PlanID, ErrCodeEngineBusy, "a run is already active")
		} else {
			c.reject("start", cmd.PlanID, ErrCodeInternal, err.Error())
		}
		return fmt.Errorf("starting plan %s: %w", cmd.PlanID, err)
	}

	c.logger.Info("remote start accepted", "plan_id", cmd.PlanID, "run_id", runID)
	c.ack(AckMessage{
		Command: "start",
		Status:  AckAccepted,
		PlanID:  cmd.PlanID,
		RunID:   runID,
	})
	return nil
}

// handleStop stops the active run, if any, and acks once the engine has
// stopped or its stop timeout has passed.
func (c *Controller) handleStop(_ string, _ []byte) error {
	c.logger.Info("remote stop received")
	c.runner.Stop()
	c.ack(AckMessage{Command: "stop", Status: AckAccepted})
	return nil
}

func (c *Controller) reject(command, planID, code, message string) {
	c.ack(AckMessage{
		Command: command,
		Status:  AckRejected,
		PlanID:  planID,
		Code:    code,
		Message: message,
	})
}

func (c *Controller) ack(msg AckMessage) {
	msg.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal ack", "error", err)
		return
	}

	if err := c.broker.Publish(c.topics.CommandAck(), payload, 1, false); err != nil {
		c.logger.Warn("failed to publish ack", "command", msg.Command, "error", err)
	}
}
