package runner

import (
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/roster"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name   string      `yaml:"name"`
	Roster roster.File `yaml:"roster,omitempty"` // Used for regular tests
	Steps  []TestStep  `yaml:"steps,omitempty"`  // Used for regular tests
	Cases  []string    `yaml:"cases,omitempty"`  // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep submits its events as one batch and then checks the combat context.
type TestStep struct {
	Name         string           `yaml:"name,omitempty"`
	Events       []map[string]any `yaml:"events"`
	Expectations Expectations     `yaml:"expect"`
}

// Expectations defines what to check after a test step executes.
// Character keys are character ids as strings.
type Expectations struct {
	// Combat state
	IsActive     *bool    `yaml:"is_active,omitempty"`
	CurrentRound *int     `yaml:"current_round,omitempty"`
	CurrentTurn  *string  `yaml:"current_turn,omitempty"`
	TurnOrder    []string `yaml:"turn_order,omitempty"` // Character ids in turn order

	// Per-character state
	HP         map[string]int      `yaml:"hp,omitempty"`
	Conditions map[string][]string `yaml:"conditions,omitempty"` // Order independent
	Effects    map[string][]string `yaml:"effects,omitempty"`    // Order independent
	SlotsUsed  map[string]int      `yaml:"slots_used,omitempty"` // "<id>/<level>" -> slots used

	// Batch outcome
	Applied    *int `yaml:"applied,omitempty"`
	Duplicates *int `yaml:"duplicates,omitempty"`
	Rejected   *int `yaml:"rejected,omitempty"`
	Skipped    *int `yaml:"skipped,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName string
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job        TestJob
	Results    []TestResult
	Error      error
	Duration   time.Duration
	SessionID  string // Session created for this run
	Consistent bool   // Replay matched the stored projection
}
