package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PlanFileExt is the extension of plan files.
const PlanFileExt = ".json"

// DecodePlan parses and validates a JSON plan document.
func DecodePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if plan.Sequences == nil {
		return nil, fmt.Errorf("%w: sequences is required", ErrInvalidPlan)
	}
	if err := ValidatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// EncodePlan renders plan as indented JSON. Non-ASCII text is written as is.
func EncodePlan(plan *Plan) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadPlanFile reads and validates a plan file.
func LoadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	plan, err := DecodePlan(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), PlanFileExt)
	}
	return plan, nil
}

// SavePlanFile validates plan and writes it to path, creating the parent
// directory. Version and CreatedAt are filled in when empty.
func SavePlanFile(path string, plan *Plan) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}

	out := plan.DeepCopy()
	if out.Version == "" {
		out.Version = defaultPlanVersion
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Sequences == nil {
		out.Sequences = []Sequence{}
	}

	data, err := EncodePlan(out)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating plan directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves half a plan.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing plan file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing plan file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming plan file: %w", err)
	}
	return nil
}

// PlanFilePath returns the path of the plan file called name in dir.
func PlanFilePath(dir, name string) string {
	return filepath.Join(dir, name+PlanFileExt)
}

// ListPlanFiles returns the names of the plan files in dir, sorted,
// without the extension. A missing directory holds no plans.
func ListPlanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing plan files: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), PlanFileExt); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DefaultPlan returns the starter plan written on first run: one sequence
// pressing space once.
func DefaultPlan() *Plan {
	return &Plan{
		Name:        "Default",
		Description: "Example plan",
		Version:     defaultPlanVersion,
		Sequences: []Sequence{
			{
				Name:     "Example sequence",
				Actions:  []Action{SingleKey("space")},
				Count:    1,
				Interval: 0.5,
			},
		},
		RepeatCount:    defaultRepeatCount,
		RepeatInterval: defaultRepeatInterval,
	}
}
