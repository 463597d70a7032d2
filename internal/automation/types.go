package automation

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ActionType tags the variant held by an Action.
type ActionType string

const (
	ActionSingle      ActionType = "single"
	ActionCombination ActionType = "combination"
	ActionText        ActionType = "text"
)

// AllActionTypes returns every recognised action type.
func AllActionTypes() []ActionType {
	return []ActionType{ActionSingle, ActionCombination, ActionText}
}

// Action is one unit of injected keyboard input. Exactly one of Key, Keys
// or Text is populated, selected by Type.
//
// Key names are opaque here; the Injector resolves them.
type Action struct {
	Type ActionType `json:"type"`
	Key  string     `json:"key,omitempty"`
	Keys []string   `json:"keys,omitempty"`
	Text string     `json:"text,omitempty"`
}

// SingleKey returns an action pressing one key.
func SingleKey(key string) Action {
	return Action{Type: ActionSingle, Key: key}
}

// Combination returns an action pressing keys together as a chord.
func Combination(keys ...string) Action {
	return Action{Type: ActionCombination, Keys: slices.Clone(keys)}
}

// Text returns an action typing text character by character.
func Text(text string) Action {
	return Action{Type: ActionText, Text: text}
}

// UnmarshalJSON decodes an action record. A missing type means single.
func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		raw.Type = ActionSingle
	}
	*a = Action(raw)
	return nil
}

// Describe returns a log-safe summary of the action. Text content is never
// included since it may hold credentials.
func (a Action) Describe() string {
	switch a.Type {
	case ActionSingle:
		return a.Key
	case ActionCombination:
		return strings.Join(a.Keys, "+")
	case ActionText:
		return "text(" + strconv.Itoa(utf8.RuneCountInString(a.Text)) + " chars)"
	default:
		return string(a.Type)
	}
}

// Sequence is a named, repeatable list of actions with its own timing.
type Sequence struct {
	Name    string   `json:"name"`
	Actions []Action `json:"keys"`

	// Count is how many times Actions is replayed back to back.
	Count int `json:"count"`

	// Interval is the nominal delay after each action, in seconds.
	Interval float64 `json:"interval"`

	// RandomInterval draws each delay uniformly from [0.5, 1.5] x Interval.
	RandomInterval bool `json:"random_interval"`

	// RandomOrder shuffles a copy of Actions once per round.
	RandomOrder bool `json:"random_order"`
}

// Sequence decoding defaults for absent fields.
const (
	defaultSequenceCount    = 1
	defaultSequenceInterval = 0.1
)

// UnmarshalJSON decodes a sequence, defaulting count and interval when
// the fields are absent.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	type alias Sequence
	raw := alias{Count: defaultSequenceCount, Interval: defaultSequenceInterval}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Sequence(raw)
	return nil
}

// IntervalDuration returns Interval as a Duration.
func (s *Sequence) IntervalDuration() time.Duration {
	return secondsToDuration(s.Interval)
}

// Plan is a full automation job: an ordered list of sequences replayed for
// RepeatCount rounds with RepeatInterval seconds between rounds.
type Plan struct {
	// Identity
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	Sequences      []Sequence `json:"sequences"`
	RepeatCount    int        `json:"repeat_count"`
	RepeatInterval float64    `json:"repeat_interval"`

	// Timestamps
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Plan decoding defaults for absent fields.
const (
	defaultRepeatCount    = 1
	defaultRepeatInterval = 1.0
	defaultPlanVersion    = "1.0"
)

// UnmarshalJSON decodes a plan, defaulting repeat_count and
// repeat_interval when the fields are absent.
func (p *Plan) UnmarshalJSON(data []byte) error {
	type alias Plan
	raw := alias{RepeatCount: defaultRepeatCount, RepeatInterval: defaultRepeatInterval}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Plan(raw)
	return nil
}

// RepeatIntervalDuration returns RepeatInterval as a Duration.
func (p *Plan) RepeatIntervalDuration() time.Duration {
	return secondsToDuration(p.RepeatInterval)
}

// TotalSteps returns the number of progress reports a full run produces.
func (p *Plan) TotalSteps() int {
	return p.RepeatCount * len(p.Sequences)
}

// DeepCopy creates a complete independent copy of the Plan. The engine runs
// on a copy so callers may keep editing theirs.
func (p *Plan) DeepCopy() *Plan {
	if p == nil {
		return nil
	}

	cpy := *p
	if p.Sequences != nil {
		cpy.Sequences = make([]Sequence, len(p.Sequences))
		for i := range p.Sequences {
			cpy.Sequences[i] = p.Sequences[i].DeepCopy()
		}
	}
	return &cpy
}

// DeepCopy returns a copy of the sequence sharing no slices with s.
func (s Sequence) DeepCopy() Sequence {
	cpy := s
	if s.Actions != nil {
		cpy.Actions = make([]Action, len(s.Actions))
		for i, a := range s.Actions {
			cpy.Actions[i] = a
			cpy.Actions[i].Keys = slices.Clone(a.Keys)
		}
	}
	return cpy
}

// RunStatus is the lifecycle state of a Run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped" // Cancelled by Stop or the abort key
)

// Run records one execution of a plan.
type Run struct {
	ID            string     `json:"id"`
	PlanID        string     `json:"plan_id,omitempty"`
	PlanName      string     `json:"plan_name,omitempty"`
	Status        RunStatus  `json:"status"`
	TriggerSource string     `json:"trigger_source,omitempty"` // api, mqtt, cli
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	// Progress counters
	RoundsCompleted    int `json:"rounds_completed"`
	SequencesCompleted int `json:"sequences_completed"`
	ActionsDispatched  int `json:"actions_dispatched"`
	ActionsFailed      int `json:"actions_failed"`
	ActionsSkipped     int `json:"actions_skipped"`

	// Failure details, capped at maxRecordedFailures
	Failures []ActionFailure `json:"failures,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// ActionFailure records an action the injector could not send.
type ActionFailure struct {
	Round         int        `json:"round"`
	SequenceIndex int        `json:"sequence_index"`
	SequenceName  string     `json:"sequence_name,omitempty"`
	ActionType    ActionType `json:"action_type"`
	Target        string     `json:"target"`
	Error         string     `json:"error"`
}

// DeepCopy returns a copy of the run sharing no pointers with r.
func (r *Run) DeepCopy() *Run {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cpy.CompletedAt = &t
	}
	cpy.Failures = slices.Clone(r.Failures)
	return &cpy
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
