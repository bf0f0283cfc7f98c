// Package judge compiles and runs submitted C++ with a native compiler.
// Every job writes uniquely named artifacts under the temp dir, runs each
// phase under its own deadline, and removes the artifacts on every path.
package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/metrics"
)

type Outcome string

const (
	Success           Outcome = "Success"
	CompilationError  Outcome = "Compilation Error"
	RuntimeError      Outcome = "Runtime Error"
	TimeLimitExceeded Outcome = "Time Limit Exceeded"
	InternalError     Outcome = "Internal Error"
)

const (
	maxOutputBytes = 64 * 1024
	killGrace      = 500 * time.Millisecond
)

var (
	summaryPattern = regexp.MustCompile(`Tests passed: (\d+)/(\d+)`)
	casePattern    = regexp.MustCompile(`(?m)^Test (\d+): (PASSED|FAILED)`)
)

type Config struct {
	Compiler      string
	TempDir       string
	Timeout       time.Duration
	MaxConcurrent int64
}

type Judge struct {
	cfg     Config
	catalog *catalog.Catalog
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, cat *catalog.Catalog, logger *slog.Logger, m *metrics.Metrics) (*Judge, error) {
	if cfg.Compiler == "" {
		cfg.Compiler = "g++"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "codearena")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Judge{
		cfg:     cfg,
		catalog: cat,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger,
		metrics: m,
	}, nil
}

type CompileResult struct {
	Outcome  Outcome       `json:"outcome"`
	Output   string        `json:"output"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"-"`
}

func (r CompileResult) OK() bool { return r.Outcome == Success }

type CaseResult struct {
	Number int  `json:"number"`
	Passed bool `json:"passed"`
}

type SubmitResult struct {
	Outcome   Outcome       `json:"outcome"`
	Output    string        `json:"output"`
	Passed    int           `json:"passed"`
	Total     int           `json:"total"`
	AllPassed bool          `json:"allPassed"`
	Cases     []CaseResult  `json:"cases,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Compile builds and runs code with input on stdin. Code without a main
// gets a stub one so a lone function can be syntax-checked.
func (j *Judge) Compile(ctx context.Context, code, input string) CompileResult {
	start := time.Now()
	source := code
	if !strings.Contains(code, "int main(") && !strings.Contains(code, "int main (") {
		source = code + "\n\n#include <iostream>\nint main() {\n    std::cout << \"Function compiled successfully!\" << std::endl;\n    return 0;\n}\n"
	}

	run := j.execute(ctx, source, input)
	res := CompileResult{Outcome: run.outcome, Output: run.output, Stderr: run.stderr, Duration: time.Since(start)}
	j.metrics.ObserveJudge(string(res.Outcome), res.Duration)
	return res
}

// Submit wraps a function body in the problem's fixture harness and reports
// how many cases passed.
func (j *Judge) Submit(ctx context.Context, code string, problemID int) SubmitResult {
	start := time.Now()
	res := j.submit(ctx, code, problemID)
	res.Duration = time.Since(start)
	j.metrics.ObserveJudge(string(res.Outcome), res.Duration)
	return res
}

func (j *Judge) submit(ctx context.Context, code string, problemID int) SubmitResult {
	p, ok := j.catalog.Get(problemID)
	if !ok || len(p.Cases) == 0 {
		return SubmitResult{Outcome: InternalError, Output: "Test cases not found for this problem"}
	}
	source, err := catalog.BuildHarness(p, code)
	if err != nil {
		j.logger.Error("build harness", "problem", problemID, "error", err)
		return SubmitResult{Outcome: InternalError, Output: err.Error()}
	}

	run := j.execute(ctx, source, "")
	if run.outcome != Success {
		return SubmitResult{Outcome: run.outcome, Output: run.output}
	}

	res := SubmitResult{Outcome: Success, Output: run.output}
	res.Passed, res.Total = ParseSummary(run.output)
	res.Cases = ParseCases(run.output)
	res.AllPassed = res.Total > 0 && res.Passed == res.Total
	return res
}

// ParseSummary extracts the "Tests passed: X/Y" line, or 0/0 when absent.
func ParseSummary(output string) (passed, total int) {
	m := summaryPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, 0
	}
	passed, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return passed, total
}

// ParseCases extracts every "Test N: PASSED|FAILED" line in order.
func ParseCases(output string) []CaseResult {
	var out []CaseResult
	for _, m := range casePattern.FindAllStringSubmatch(output, -1) {
		n, _ := strconv.Atoi(m[1])
		out = append(out, CaseResult{Number: n, Passed: m[2] == "PASSED"})
	}
	return out
}

type runResult struct {
	outcome Outcome
	output  string
	stderr  string
}

// execute compiles source and runs the binary. Artifacts are removed before
// it returns, whichever phase ended the job.
func (j *Judge) execute(ctx context.Context, source, stdin string) runResult {
	// Acquire only fails once ctx is done.
	if err := j.sem.Acquire(ctx, 1); err != nil {
		return runResult{outcome: InternalError, output: fmt.Sprintf("cancelled while waiting for a judge slot: %v", err)}
	}
	defer j.sem.Release(1)

	id := uuid.NewString()
	src := filepath.Join(j.cfg.TempDir, id+".cpp")
	bin := filepath.Join(j.cfg.TempDir, id)
	defer j.cleanup(src, bin)

	if err := os.WriteFile(src, []byte(source), 0o600); err != nil {
		j.logger.Error("write source", "error", err)
		return runResult{outcome: InternalError, output: err.Error()}
	}

	if res, ok := j.compile(ctx, src, bin); !ok {
		return res
	}
	return j.run(ctx, bin, stdin)
}

func (j *Judge) compile(ctx context.Context, src, bin string) (runResult, bool) {
	cctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, j.cfg.Compiler, "-o", bin, src, "-std=c++17")
	cmd.WaitDelay = killGrace
	stderr := newCappedBuffer()
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return runResult{}, true
	}

	switch {
	case cmd.ProcessState == nil:
		// never started: missing compiler or cancelled before launch
		j.logger.Error("compiler unavailable", "compiler", j.cfg.Compiler, "error", err)
		return runResult{outcome: InternalError, output: err.Error()}, false
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		return runResult{outcome: CompilationError, output: "Compilation took too long (> " + seconds(j.cfg.Timeout) + ")"}, false
	case ctx.Err() != nil:
		return runResult{outcome: InternalError, output: ctx.Err().Error()}, false
	}
	return runResult{outcome: CompilationError, output: firstNonEmpty(stderr.String(), err.Error())}, false
}

func (j *Judge) run(ctx context.Context, bin, stdin string) runResult {
	rctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, bin)
	cmd.WaitDelay = killGrace
	cmd.Dir = j.cfg.TempDir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	stdout, stderr := newCappedBuffer(), newCappedBuffer()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return runResult{outcome: Success, output: stdout.String(), stderr: stderr.String()}
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		return runResult{outcome: TimeLimitExceeded, output: "Your program took too long to execute (> " + seconds(j.cfg.Timeout) + ")"}
	case ctx.Err() != nil:
		return runResult{outcome: InternalError, output: ctx.Err().Error()}
	}
	return runResult{outcome: RuntimeError, output: firstNonEmpty(stderr.String(), err.Error())}
}

func (j *Judge) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("remove temp artifact", "path", p, "error", err)
		}
	}
}

// CheckCompiler returns the first line of the compiler's version banner.
func (j *Judge) CheckCompiler(ctx context.Context) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, j.cfg.Compiler, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", j.cfg.Compiler, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func seconds(d time.Duration) string {
	s := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	if s == "1" {
		return "1 second"
	}
	return s + " seconds"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// cappedBuffer keeps the first maxOutputBytes written and discards the rest
// so a runaway program cannot exhaust memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer() *cappedBuffer { return &cappedBuffer{} }

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxOutputBytes - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
