package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"evogate/internal/logging"
)

// WorkerEnv marks a process started as a sandbox worker.
const WorkerEnv = "EVOGATE_SANDBOX_WORKER"

// responseFD is the descriptor the worker writes its result to, keeping the
// candidate's own stdout out of the protocol.
const responseFD = 3

// ServeWorkerIfRequested turns the current process into a sandbox worker when
// started by an Executor, and exits. It must run before anything else in main
// (and in TestMain for test binaries that exercise process isolation).
func ServeWorkerIfRequested() {
	if os.Getenv(WorkerEnv) != "1" {
		return
	}
	out := os.NewFile(responseFD, "response")
	code := serveWorker(os.Stdin, out)
	out.Close()
	os.Exit(code)
}

func serveWorker(in io.Reader, out io.Writer) int {
	dec := json.NewDecoder(in)
	dec.UseNumber()
	var j job
	if err := dec.Decode(&j); err != nil {
		_ = json.NewEncoder(out).Encode(faulted(FaultHarness, fmt.Sprintf("bad worker request: %v", err)))
		return 2
	}
	if j.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(j.MemoryLimitMB) << 20)
	}
	if err := json.NewEncoder(out).Encode(execute(j)); err != nil {
		return 2
	}
	return 0
}

// runInWorker re-executes the worker binary for one job and kills it when the budget expires.
func (e *Executor) runInWorker(ctx context.Context, j job, timeout time.Duration) RunResult {
	if e.opts.WorkerPath == "" {
		return faulted(FaultHarness, "no worker binary available")
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return faulted(FaultInput, fmt.Sprintf("inputs are not serializable: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	respR, respW, err := os.Pipe()
	if err != nil {
		return faulted(FaultHarness, fmt.Sprintf("failed to create pipe: %v", err))
	}

	cmd := exec.CommandContext(runCtx, e.opts.WorkerPath)
	cmd.Env = []string{WorkerEnv + "=1"}
	cmd.Stdin = bytes.NewReader(payload)
	stdout := &limitedBuffer{limit: e.opts.MaxOutputBytes}
	stderr := &limitedBuffer{limit: 64 << 10}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{respW}
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		respR.Close()
		respW.Close()
		return faulted(FaultHarness, fmt.Sprintf("failed to start worker: %v", err))
	}
	respW.Close()

	respCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(respR)
		respR.Close()
		respCh <- data
	}()

	waitErr := cmd.Wait()
	data := <-respCh

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		logging.SandboxWarn("worker killed after %v", timeout)
		return faulted(FaultTimeout, fmt.Sprintf("execution exceeded %v", timeout))
	}
	if ctx.Err() != nil {
		return faulted(FaultHarness, ctx.Err().Error())
	}

	var res RunResult
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if len(data) == 0 || dec.Decode(&res) != nil {
		return classifyCrash(waitErr, stderr.String())
	}
	if s := stdout.String(); s != "" {
		res.Stdout += s
	}
	return res
}

// classifyCrash describes a worker that died without answering.
func classifyCrash(waitErr error, stderr string) RunResult {
	switch {
	case strings.Contains(stderr, "out of memory"):
		return faulted(FaultRuntime, "out of memory")
	case strings.Contains(stderr, "goroutine stack exceeds"):
		return faulted(FaultRuntime, "stack overflow")
	case strings.Contains(stderr, "all goroutines are asleep"):
		return faulted(FaultRuntime, "deadlock")
	}
	msg := fmt.Sprintf("worker exited without a result: %v", waitErr)
	if stderr != "" {
		msg += "\n" + stderr
	}
	return faulted(FaultHarness, msg)
}
