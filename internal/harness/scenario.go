package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sysmst/internal/sctl"
)

// Scenario defines a daemon integration scenario.
// A scenario optionally starts the daemon, drives units through setup
// actions and then checks unit state, logs and processes.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Daemon runs the daemon start sequence before setup.
	Daemon bool `yaml:"daemon,omitempty"`

	// Setup contains sctl actions run in order before the assertions.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Assertions are all evaluated; a failing one never stops the rest.
	// Supported types: unit_status, unit_load, log_contains, pid_count, expect_eq
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is one sctl action on one unit.
type ActionStep struct {
	// Action is one of start, stop, restart, reload, status.
	Action string `yaml:"action"`

	// Unit is the unit name (e.g., "base.target").
	Unit string `yaml:"unit"`
}

// Assertion checks one property of the running system.
type Assertion struct {
	// Type specifies the assertion type:
	// - "unit_status": the unit's Active: state is State
	// - "unit_load": the unit's Loaded: state is State
	// - "log_contains": the file at Path matches every pattern in Patterns
	// - "pid_count": the unit lists exactly Count processes
	// - "expect_eq": Actual equals Expected (literal sanity checks)
	Type string `yaml:"type"`

	// Unit is the unit name (unit_status, unit_load, pid_count).
	Unit string `yaml:"unit,omitempty"`

	// State is the expected state word (unit_status, unit_load).
	State string `yaml:"state,omitempty"`

	// Path is the log file (log_contains). Defaults to the daemon log.
	Path string `yaml:"path,omitempty"`

	// Patterns are regular expressions that must all match (log_contains).
	Patterns []string `yaml:"patterns,omitempty"`

	// Count is the expected number of processes (pid_count).
	Count int `yaml:"count,omitempty"`

	// Actual and Expected are the operands of expect_eq. Both are required.
	Actual   *int64 `yaml:"actual,omitempty"`
	Expected *int64 `yaml:"expected,omitempty"`

	// Message is attached to any failure this assertion records.
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertUnitStatus  = "unit_status"
	AssertUnitLoad    = "unit_load"
	AssertLogContains = "log_contains"
	AssertPIDCount    = "pid_count"
	AssertExpectEq    = "expect_eq"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if _, err := sctl.ParseAction(step.Action); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Unit == "" {
			return fmt.Errorf("setup[%d]: unit is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertUnitStatus, AssertUnitLoad:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: unit is required for %s", index, a.Type)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for %s", index, a.Type)
		}
	case AssertLogContains:
		if len(a.Patterns) == 0 {
			return fmt.Errorf("assertions[%d]: patterns list is required for log_contains", index)
		}
	case AssertPIDCount:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: unit is required for pid_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pid_count", index)
		}
	case AssertExpectEq:
		if a.Actual == nil || a.Expected == nil {
			return fmt.Errorf("assertions[%d]: actual and expected are both required for expect_eq", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
