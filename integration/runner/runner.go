package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/combat-tracker/internal/apiclient"
	"github.com/jwebster45206/combat-tracker/internal/handlers"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running combat tracker API
type Runner struct {
	BaseURL           string
	Client            *apiclient.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            apiclient.New(baseURL, 60*time.Second),
		Timeout:           30 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a YAML file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := yaml.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse YAML in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite creates a fresh session from the suite roster, runs every step
// against it, and finishes with a replay consistency check.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results:   make([]TestResult, 0, len(suite.Steps)),
		SessionID: "it-" + uuid.NewString(),
	}

	createCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	_, err := r.Client.CreateSession(createCtx, apiclient.SessionRequest(&suite.Roster, result.SessionID))
	cancel()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, result.SessionID, step)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}
		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	replayCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	replay, err := r.Client.Replay(replayCtx, result.SessionID)
	cancel()
	switch {
	case err != nil:
		if result.Error == nil {
			result.Error = fmt.Errorf("failed to replay session: %w", err)
		}
	case !replay.Consistent:
		if result.Error == nil {
			result.Error = fmt.Errorf("replay of session %s does not match the stored projection", result.SessionID)
		}
	default:
		result.Consistent = true
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

func (r *Runner) runStep(ctx context.Context, sessionID string, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if len(step.Events) > 0 {
		batch, err := r.Client.SubmitBatch(ctx, sessionID, step.Events)
		if err != nil {
			result.Error = fmt.Errorf("failed to submit events: %w", err)
			result.Duration = time.Since(start)
			return result
		}
		if err := checkBatch(step.Expectations, batch.Results); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result
		}
	}

	cc, err := r.Client.CombatContext(ctx, sessionID)
	if err != nil {
		result.Error = fmt.Errorf("failed to get combat context: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	if err := CheckContext(step.Expectations, cc); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func checkBatch(exp Expectations, items []handlers.BatchItem) error {
	var applied, duplicates, rejected, skipped int
	for _, it := range items {
		switch {
		case it.Skipped:
			skipped++
		case it.Error != "":
			rejected++
		case it.Duplicate:
			duplicates++
		case it.Event != nil:
			applied++
		}
	}

	var errs []string
	expectCount := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("expected %d %s events, got %d", *want, name, got))
		}
	}
	expectCount("applied", exp.Applied, applied)
	expectCount("duplicate", exp.Duplicates, duplicates)
	expectCount("rejected", exp.Rejected, rejected)
	expectCount("skipped", exp.Skipped, skipped)

	if len(errs) > 0 {
		return fmt.Errorf("batch expectations failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckContext compares a combat context against the combat-state
// expectations of a step.
func CheckContext(exp Expectations, cc *combat.Context) error {
	var errs []string

	if exp.IsActive != nil && *exp.IsActive != cc.IsActive {
		errs = append(errs, fmt.Sprintf("expected is_active %t, got %t", *exp.IsActive, cc.IsActive))
	}
	if exp.CurrentRound != nil && *exp.CurrentRound != cc.CurrentRound {
		errs = append(errs, fmt.Sprintf("expected round %d, got %d", *exp.CurrentRound, cc.CurrentRound))
	}
	if exp.CurrentTurn != nil {
		got := ""
		if cc.CurrentTurnCharacterID != nil {
			got = cc.CurrentTurnCharacterID.String()
		}
		if got != *exp.CurrentTurn {
			errs = append(errs, fmt.Sprintf("expected current turn %q, got %q", *exp.CurrentTurn, got))
		}
	}
	if exp.TurnOrder != nil {
		got := make([]string, 0, len(cc.TurnOrder))
		for _, c := range cc.TurnOrder {
			got = append(got, c.CharacterID.String())
		}
		if !slices.Equal(got, exp.TurnOrder) {
			errs = append(errs, fmt.Sprintf("expected turn order %v, got %v", exp.TurnOrder, got))
		}
	}

	if len(exp.HP) > 0 {
		hp := make(map[string]int, len(cc.Characters))
		for _, c := range cc.Characters {
			hp[c.ID.String()] = c.CurrentHP
		}
		for id, want := range exp.HP {
			got, ok := hp[id]
			if !ok {
				errs = append(errs, fmt.Sprintf("character %s not in session", id))
				continue
			}
			if got != want {
				errs = append(errs, fmt.Sprintf("expected %s hp %d, got %d", id, want, got))
			}
		}
	}

	if exp.Conditions != nil {
		got := make(map[string][]string)
		for _, c := range cc.Conditions {
			got[c.CharacterID.String()] = append(got[c.CharacterID.String()], c.Name)
		}
		errs = append(errs, compareNames("conditions", exp.Conditions, got)...)
	}
	if exp.Effects != nil {
		got := make(map[string][]string)
		for _, e := range cc.Effects {
			got[e.CharacterID.String()] = append(got[e.CharacterID.String()], e.Name)
		}
		errs = append(errs, compareNames("effects", exp.Effects, got)...)
	}

	if len(exp.SlotsUsed) > 0 {
		got := make(map[string]int, len(cc.SpellSlots))
		for _, s := range cc.SpellSlots {
			got[s.CharacterID.String()+"/"+strconv.Itoa(s.SpellLevel)] = s.SlotsUsed
		}
		for key, want := range exp.SlotsUsed {
			if got[key] != want {
				errs = append(errs, fmt.Sprintf("expected %d slots used at %s, got %d", want, key, got[key]))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("expectations failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// compareNames checks each listed character's names, ignoring order. An
// empty list expects the character to have none.
func compareNames(kind string, want, got map[string][]string) []string {
	var errs []string
	for id, names := range want {
		w := slices.Clone(names)
		g := slices.Clone(got[id])
		slices.Sort(w)
		slices.Sort(g)
		if !slices.Equal(w, g) {
			errs = append(errs, fmt.Sprintf("expected %s %s %v, got %v", id, kind, w, g))
		}
	}
	return errs
}
