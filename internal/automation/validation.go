package automation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength      = 100
	maxDescriptionLen  = 500
	maxSequences       = 200
	maxActionsPerSeq   = 1000
	maxComboKeys       = 8
	maxTextLength      = 10000
	maxIntervalSeconds = 86400 // 1 day
)

// Pre-computed validation set for O(1) action type lookups.
var validActionTypes map[ActionType]struct{}

func init() {
	validActionTypes = make(map[ActionType]struct{}, len(AllActionTypes()))
	for _, t := range AllActionTypes() {
		validActionTypes[t] = struct{}{}
	}
}

// ValidatePlan checks a plan before it is stored or run.
// Returns an error describing the first validation failure found.
func ValidatePlan(p *Plan) error {
	if p == nil {
		return ErrInvalidPlan
	}

	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if len(p.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidPlan, maxDescriptionLen)
	}

	if p.RepeatCount < 1 {
		return fmt.Errorf("%w: repeat_count must be at least 1", ErrInvalidPlan)
	}
	if err := validateSeconds(p.RepeatInterval); err != nil {
		return fmt.Errorf("%w: repeat_interval %w", ErrInvalidPlan, err)
	}

	if len(p.Sequences) > maxSequences {
		return fmt.Errorf("%w: exceeds maximum of %d sequences", ErrInvalidPlan, maxSequences)
	}
	for i := range p.Sequences {
		if err := ValidateSequence(&p.Sequences[i]); err != nil {
			return fmt.Errorf("sequence[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateName checks a plan name. Names are optional.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSequence checks a sequence's replay parameters and actions.
// An empty action list is legal.
func ValidateSequence(s *Sequence) error {
	if s.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1", ErrInvalidSequence)
	}
	if err := validateSeconds(s.Interval); err != nil {
		return fmt.Errorf("%w: interval %w", ErrInvalidSequence, err)
	}
	if len(s.Actions) > maxActionsPerSeq {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidSequence, maxActionsPerSeq)
	}

	for i, a := range s.Actions {
		if err := ValidateAction(a); err != nil {
			return fmt.Errorf("keys[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateAction checks that exactly the field matching Type is populated.
func ValidateAction(a Action) error {
	if _, ok := validActionTypes[a.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}

	switch a.Type {
	case ActionSingle:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("%w: single requires key", ErrInvalidAction)
		}
		if len(a.Keys) > 0 || a.Text != "" {
			return fmt.Errorf("%w: single takes only key", ErrInvalidAction)
		}
	case ActionCombination:
		if len(a.Keys) == 0 {
			return fmt.Errorf("%w: combination requires keys", ErrInvalidAction)
		}
		if len(a.Keys) > maxComboKeys {
			return fmt.Errorf("%w: combination exceeds %d keys", ErrInvalidAction, maxComboKeys)
		}
		for _, k := range a.Keys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("%w: combination has an empty key", ErrInvalidAction)
			}
		}
		if a.Key != "" || a.Text != "" {
			return fmt.Errorf("%w: combination takes only keys", ErrInvalidAction)
		}
	case ActionText:
		if a.Text == "" {
			return fmt.Errorf("%w: text requires text", ErrInvalidAction)
		}
		if len(a.Text) > maxTextLength {
			return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidAction, maxTextLength)
		}
		if a.Key != "" || len(a.Keys) > 0 {
			return fmt.Errorf("%w: text takes only text", ErrInvalidAction)
		}
	}
	return nil
}

// validateSeconds checks a non-negative, finite, bounded duration in seconds.
func validateSeconds(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("must be a number")
	}
	if v < 0 {
		return errors.New("must not be negative")
	}
	if v > maxIntervalSeconds {
		return fmt.Errorf("exceeds %d seconds", maxIntervalSeconds)
	}
	return nil
}

// GenerateID creates a new UUID for a plan or run.
func GenerateID() string {
	return uuid.New().String()
}
