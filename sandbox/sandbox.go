// Package sandbox defines the executor interface every invocation of
// executable-artifact code runs through, plus a reference in-process
// implementation backed by the yaegi Go interpreter.
package sandbox

import (
	"context"
	"time"
)

// ResourceUsage reports what one execution consumed.
type ResourceUsage struct {
	CPUSeconds  float64
	MemoryBytes int64
	WallSeconds float64
}

// NestedInvocation records one dependency call made from inside a
// sandboxed execution, for the top-level invoke's trace.
type NestedInvocation struct {
	ArtifactID string
	Method     string
	Args       []any
	Success    bool
}

// DependencyInvoker is the single capability a dependency wrapper
// exposes to sandboxed code: re-enter the invoke pipeline for one
// specific dependency artifact, attributed to the same top-level
// caller.
type DependencyInvoker func(method string, args []any) (any, error)

// KernelCapability is the narrow set of kernel operations exposed to
// sandboxed code, scoped to what the caller could already do directly
// — invoking this never escalates privilege.
type KernelCapability struct {
	Invoke       func(artifactID, method string, args []any) (any, error)
	ReadContent  func(artifactID string) ([]byte, error)
	WriteContent func(artifactID string, content []byte) error
}

// Request is everything one execution needs.
type Request struct {
	Code         string
	Method       string
	Args         []any
	CallerID     string
	ArtifactID   string
	Dependencies map[string]DependencyInvoker
	Kernel       KernelCapability
	Deadline     time.Time
}

// Result is the outcome of one execution.
type Result struct {
	Success           bool
	Value             any
	Err               string
	Resources         ResourceUsage
	NestedInvocations []NestedInvocation
}

// Executor runs artifact code under CPU/time/memory limits and reports
// consumed resources. Implementations must terminate by Request.Deadline
// and must expose only req.Kernel's methods and req.Dependencies as
// globals to the executed code — no ambient environment access.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ErrTimeout is returned (wrapped) when execution does not complete by
// the deadline.
type ErrTimeout struct{ ArtifactID string }

func (e *ErrTimeout) Error() string { return "sandbox execution timed out: " + e.ArtifactID }
