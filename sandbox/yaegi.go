package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// defaultAllowedPackages is the stdlib import whitelist for
// YaegiExecutor. Anything not named here (os, net, os/exec, syscall,
// unsafe, ...) is rejected before the interpreter ever sees the code.
var defaultAllowedPackages = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"errors":          true,
}

// YaegiExecutor is the reference in-process SandboxedExecutor: code is
// a Go-subset script interpreted by yaegi, one fresh interpreter per
// call. True memory/CPU isolation is not achievable in pure Go without
// cgroups; this executor enforces a wall-clock deadline via context and
// a symbol whitelist, and reports memory_bytes as a best-effort
// runtime.MemStats delta — an approximation, not a hard limit.
// Production deployments that need a real limit should implement
// Executor with a process-isolated sandbox instead.
type YaegiExecutor struct {
	allowedPackages map[string]bool
}

// NewYaegiExecutor constructs a YaegiExecutor with the default stdlib
// whitelist.
func NewYaegiExecutor() *YaegiExecutor {
	return &YaegiExecutor{allowedPackages: defaultAllowedPackages}
}

// Execute interprets req.Code, locates the exported function named
// req.Method (title-cased), and calls it with req.Args.
func (y *YaegiExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := y.validateImports(req.Code); err != nil {
		return Result{Success: false, Err: err.Error()}, nil
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Result{}, fmt.Errorf("sandbox: load stdlib symbols: %w", err)
	}
	if err := i.Use(kernelSymbols(req)); err != nil {
		return Result{}, fmt.Errorf("sandbox: load kernel symbols: %w", err)
	}

	if _, err := i.Eval(wrapCode(req.Code)); err != nil {
		return Result{Success: false, Err: fmt.Sprintf("code evaluation failed: %v", err)}, nil
	}

	methodName := title(req.Method)
	if methodName == "" {
		methodName = "Run"
	}
	fnVal, err := i.Eval("main." + methodName)
	if err != nil {
		return Result{Success: false, Err: fmt.Sprintf("method %q not found: %v", req.Method, err)}, nil
	}

	fn, ok := fnVal.Interface().(func([]any) (any, error))
	if !ok {
		return Result{Success: false, Err: fmt.Sprintf("method %q has unsupported signature (expected func([]any) (any, error))", req.Method)}, nil
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	type callResult struct {
		val any
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(req.Args)
		done <- callResult{val: v, err: err}
	}()

	select {
	case res := <-done:
		wall := time.Since(start)
		var memAfter runtime.MemStats
		runtime.ReadMemStats(&memAfter)
		usage := ResourceUsage{
			WallSeconds: wall.Seconds(),
			CPUSeconds:  wall.Seconds(),
			MemoryBytes: int64(memAfter.TotalAlloc) - int64(memBefore.TotalAlloc),
		}
		if res.err != nil {
			return Result{Success: false, Err: res.err.Error(), Resources: usage}, nil
		}
		return Result{Success: true, Value: res.val, Resources: usage}, nil
	case <-ctx.Done():
		return Result{}, &ErrTimeout{ArtifactID: req.ArtifactID}
	}
}

// kernelPackagePath is the synthetic import path code uses to reach the
// injected kernel capability and dependency map. It is always allowed:
// it names no real stdlib package and carries no ambient access of its
// own, only what req.Kernel/req.Dependencies grant per call.
const kernelPackagePath = "sandbox/kernel/kernel"

func (y *YaegiExecutor) validateImports(code string) error {
	var forbidden []string
	lines := strings.Split(code, "\n")
	inBlock := false
	check := func(pkg string) {
		if pkg != "" && pkg != kernelPackagePath && !y.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			check(strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			check(strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

func title(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// kernelSymbols builds the yaegi symbol table exposing req.Kernel and
// req.Dependencies as the package imported by kernelPackagePath
// (yaegi reads an export key as import path plus package name, hence
// the extra "/kernel" segment) — the only globals
// visible to executed code besides the stdlib whitelist.
func kernelSymbols(req Request) interp.Exports {
	deps := make(map[string]func(string, []any) (any, error), len(req.Dependencies))
	for id, invoker := range req.Dependencies {
		invoker := invoker
		deps[id] = func(method string, args []any) (any, error) { return invoker(method, args) }
	}

	invoke := req.Kernel.Invoke
	if invoke == nil {
		invoke = func(string, string, []any) (any, error) { return nil, fmt.Errorf("invoke not permitted") }
	}
	readContent := req.Kernel.ReadContent
	if readContent == nil {
		readContent = func(string) ([]byte, error) { return nil, fmt.Errorf("read_content not permitted") }
	}
	writeContent := req.Kernel.WriteContent
	if writeContent == nil {
		writeContent = func(string, []byte) error { return fmt.Errorf("write_content not permitted") }
	}

	return interp.Exports{
		kernelPackagePath + "/kernel": {
			"Invoke":       reflect.ValueOf(invoke),
			"ReadContent":  reflect.ValueOf(readContent),
			"WriteContent": reflect.ValueOf(writeContent),
			"Dependencies": reflect.ValueOf(deps),
		},
	}
}
