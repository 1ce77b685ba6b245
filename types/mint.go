package types

import "time"

// MintSubmission is a held bid in the mint auction. The bid is escrowed
// from the submitter's scrip at submit time.
type MintSubmission struct {
	SubmissionID string    `json:"submission_id"`
	PrincipalID  string    `json:"principal_id"`
	ArtifactID   string    `json:"artifact_id"`
	Bid          int64     `json:"bid"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// MintResolution is one historical record of an auction resolution.
type MintResolution struct {
	ResolvedAt   time.Time `json:"resolved_at"`
	WinnerID     string    `json:"winner_id"`
	ArtifactID   string    `json:"artifact_id"`
	PricePaid    int64     `json:"price_paid"`
	Score        int       `json:"score"`
	Reason       string    `json:"reason"`
	Minted       int64     `json:"minted"`
	UBIDistributed int64   `json:"ubi_distributed"`
}

// ScoreResult is what the injected scorer interface returns for the
// winning artifact.
type ScoreResult struct {
	Score  int
	Reason string
}

// AssertionType names how a test compares an actual result to an
// expected one.
type AssertionType string

const (
	AssertEquals   AssertionType = "equals"
	AssertContains AssertionType = "contains"
	AssertTypeIs   AssertionType = "type_is"
	AssertTruthy   AssertionType = "truthy"
)

// TaskTest is one test case for the task-based mint.
type TaskTest struct {
	InvokeArgs     []any         `json:"invoke_args"`
	ExpectedResult any           `json:"expected_result"`
	Assertion      AssertionType `json:"assertion_type"`
}

// Task holds a deterministic reward gated by public and hidden tests.
type Task struct {
	TaskID       string     `json:"task_id"`
	Description  string     `json:"description"`
	Reward       int64      `json:"reward"`
	PublicTests  []TaskTest `json:"public_tests"`
	HiddenTests  []TaskTest `json:"hidden_tests"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CompletedBy  string     `json:"completed_by,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsOpen reports whether the task can still accept a solution.
func (t *Task) IsOpen(now time.Time) bool {
	if t.CompletedBy != "" {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}

// TestRunResult is the per-test outcome of submit_solution. Public test
// results include Expected/Actual; hidden test results never do.
type TestRunResult struct {
	Passed   bool `json:"passed"`
	Expected any  `json:"expected,omitempty"`
	Actual   any  `json:"actual,omitempty"`
}
