package sandbox

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/justapithecus/agora/ipc"
)

// SubprocessExecutor runs each invocation in a freshly spawned child
// process, talking the ipc length-prefixed msgpack protocol over its
// stdin/stdout. This is the process-isolated alternative to
// YaegiExecutor referenced in SPEC_FULL.md §7: true memory/CPU limits
// are only achievable with a real process boundary (or cgroups around
// one), which YaegiExecutor cannot provide running in-process.
//
// Limitation: dependency composition and in-sandbox read/write are not
// supported here — sandbox.Request's Dependencies and Kernel fields are
// function-valued and cannot cross a process boundary. Execute returns
// an error for a request with dependencies; the invoke pipeline in
// action/invoke.go does not route such artifacts to another executor.
type SubprocessExecutor struct {
	// Command builds the child process to spawn for one invocation.
	// Typically something like exec.Command("agora-sandbox-worker").
	Command func(ctx context.Context) *exec.Cmd
}

// Execute spawns the configured command, writes one InvokeRequestFrame
// to its stdin, and reads exactly one InvokeResponseFrame from its
// stdout before killing the process.
func (s *SubprocessExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if len(req.Dependencies) > 0 {
		return Result{}, fmt.Errorf("sandbox: subprocess executor does not support dependency composition for %s", req.ArtifactID)
	}

	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	cmd := s.Command(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("sandbox: start subprocess: %w", err)
	}

	frame, err := ipc.EncodeInvokeRequest(&ipc.InvokeRequestFrame{
		Code: req.Code, Method: req.Method, Args: req.Args,
		CallerID: req.CallerID, ArtifactID: req.ArtifactID,
		DeadlineMS: time.Until(req.Deadline).Milliseconds(),
	})
	if err != nil {
		_ = cmd.Process.Kill()
		return Result{}, err
	}

	var readErr error
	var payload []byte
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer once.Do(func() { close(done) })
		if _, werr := stdin.Write(frame); werr != nil {
			readErr = fmt.Errorf("sandbox: write request: %w", werr)
			return
		}
		_ = stdin.Close()
		dec := ipc.NewFrameDecoder(stdout)
		payload, readErr = dec.ReadFrame()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = cmd.Wait()
		return Result{}, &ErrTimeout{ArtifactID: req.ArtifactID}
	}

	waitErr := cmd.Wait()
	if readErr != nil {
		if readErr == io.EOF {
			return Result{}, fmt.Errorf("sandbox: subprocess closed stdout without a response (wait: %v)", waitErr)
		}
		return Result{}, readErr
	}

	resp, err := ipc.DecodeInvokeResponse(payload)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: resp.Success,
		Value:   resp.Value,
		Err:     resp.Err,
		Resources: ResourceUsage{
			CPUSeconds:  resp.CPUSeconds,
			MemoryBytes: resp.MemoryBytes,
			WallSeconds: resp.WallSeconds,
		},
	}, nil
}
