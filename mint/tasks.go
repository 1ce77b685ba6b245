package mint

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// Tasks implements the deterministic, test-driven mint.
type Tasks struct {
	store   *store.Store
	ledger  *ledger.Ledger
	sandbox sandbox.Executor
	tasks   map[string]*types.Task
}

// NewTasks constructs an empty Tasks registry.
func NewTasks(s *store.Store, l *ledger.Ledger, exec sandbox.Executor) *Tasks {
	return &Tasks{store: s, ledger: l, sandbox: exec, tasks: make(map[string]*types.Task)}
}

// Create registers a new task.
func (t *Tasks) Create(task *types.Task) error {
	if task.TaskID == "" {
		return errf("validation", "task_id must not be empty")
	}
	if _, exists := t.tasks[task.TaskID]; exists {
		return errf("validation", "task %s already exists", task.TaskID)
	}
	t.tasks[task.TaskID] = task
	return nil
}

// Get returns a task by id.
func (t *Tasks) Get(taskID string) (*types.Task, bool) {
	task, ok := t.tasks[taskID]
	return task, ok
}

// SubmissionEffect is the fully-computed outcome of submit_solution.
type SubmissionEffect struct {
	Passed        bool
	PublicResults []types.TestRunResult
	HiddenResults []types.TestRunResult
	Reward        int64
	TaskCompleted bool
}

// authorizedToSubmit mirrors the invoke-permission rule exactly: the
// creator, or whoever the kernel itself tagged authorized_writer (on an
// access-contract-granted write by a non-creator) or authorized_principal
// (via TransferOwnership) — never a value the artifact's own metadata
// blob could set. A hardcoded created_by-only check would forbid
// legitimate delegated submission; this must never special-case task
// submission differently from invoke.
func authorizedToSubmit(art *types.Artifact, caller string) bool {
	if art.CreatedBy == caller {
		return true
	}
	if v, ok := art.Metadata["authorized_writer"].(string); ok && v == caller {
		return true
	}
	if v, ok := art.Metadata["authorized_principal"].(string); ok && v == caller {
		return true
	}
	return false
}

// SubmitSolution runs a task's public tests, and — only if every public
// test passes — its hidden tests, crediting the reward and closing the
// task if every hidden test also passes.
func (t *Tasks) SubmitSolution(ctx context.Context, principal, artifactID, taskID string, now time.Time) (*SubmissionEffect, error) {
	task, ok := t.tasks[taskID]
	if !ok {
		return nil, errf("not_found", "task %s does not exist", taskID)
	}
	if !task.IsOpen(now) {
		return nil, errf("resource", "task %s is not open", taskID)
	}

	art, ok := t.store.GetLive(artifactID)
	if !ok {
		return nil, errf("not_found", "artifact %s does not exist", artifactID)
	}
	if art.Code == "" {
		return nil, errf("validation", "artifact %s has no code", artifactID)
	}
	if !authorizedToSubmit(art, principal) {
		return nil, errf("permission", "principal %s is not authorized to submit %s", principal, artifactID)
	}

	publicResults := make([]types.TestRunResult, 0, len(task.PublicTests))
	for _, test := range task.PublicTests {
		res, err := t.runTest(ctx, art, test, true)
		if err != nil {
			return nil, err
		}
		publicResults = append(publicResults, res)
		if !res.Passed {
			return &SubmissionEffect{Passed: false, PublicResults: publicResults}, nil
		}
	}

	hiddenResults := make([]types.TestRunResult, 0, len(task.HiddenTests))
	allHiddenPassed := true
	for _, test := range task.HiddenTests {
		res, err := t.runTest(ctx, art, test, false)
		if err != nil {
			return nil, err
		}
		hiddenResults = append(hiddenResults, res)
		if !res.Passed {
			allHiddenPassed = false
		}
	}

	effect := &SubmissionEffect{Passed: allHiddenPassed, PublicResults: publicResults, HiddenResults: hiddenResults}
	if !allHiddenPassed {
		return effect, nil
	}

	if err := t.ledger.Credit(principal, task.Reward); err != nil {
		return nil, err
	}
	task.CompletedBy = principal
	completedAt := now
	task.CompletedAt = &completedAt
	effect.Reward = task.Reward
	effect.TaskCompleted = true
	return effect, nil
}

func (t *Tasks) runTest(ctx context.Context, art *types.Artifact, test types.TaskTest, reveal bool) (types.TestRunResult, error) {
	res, err := t.sandbox.Execute(ctx, sandbox.Request{
		Code: art.Code, Method: "run", Args: test.InvokeArgs,
		ArtifactID: art.ID, Deadline: time.Now().Add(5 * time.Second),
	})
	if err != nil {
		return types.TestRunResult{}, err
	}
	if !res.Success {
		out := types.TestRunResult{Passed: false}
		if reveal {
			out.Expected = test.ExpectedResult
		}
		return out, nil
	}

	passed := assertionHolds(test.Assertion, test.ExpectedResult, res.Value)
	out := types.TestRunResult{Passed: passed}
	if reveal {
		out.Expected = test.ExpectedResult
		out.Actual = res.Value
	}
	return out, nil
}

func assertionHolds(assertion types.AssertionType, expected, actual any) bool {
	switch assertion {
	case types.AssertEquals:
		return valuesEqual(expected, actual)
	case types.AssertContains:
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected))
	case types.AssertTypeIs:
		return reflect.TypeOf(actual) != nil && reflect.TypeOf(actual).String() == fmt.Sprintf("%v", expected)
	case types.AssertTruthy:
		return isTruthy(actual)
	default:
		return false
	}
}

// valuesEqual compares decoded values rather than their string forms, so
// e.g. float64(1) (a yaegi run() result) and int(1) (a hand-written
// expected_result) compare equal instead of happening to stringify the
// same way.
func valuesEqual(expected, actual any) bool {
	ef, eok := toFloat64(expected)
	af, aok := toFloat64(actual)
	if eok && aok {
		return ef == af
	}
	return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
