package judge

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// Executor runs a compiled program against test cases, at most concurrency
// at a time. One test's crash or timeout never stops the others.
type Executor struct {
	toolchain    Toolchain
	concurrency  int
	defaultLimit time.Duration
	outputLimit  int
	onSpawn      func()
	onExit       func()
}

type Option func(*Executor)

func WithToolchain(tc Toolchain) Option {
	return func(e *Executor) { e.toolchain = tc }
}

func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithDefaultTimeLimit applies to test cases without their own limit.
func WithDefaultTimeLimit(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultLimit = d
		}
	}
}

// WithOutputLimit caps the captured stdout of each test, in bytes. A program
// writing more fails the test.
func WithOutputLimit(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.outputLimit = n
		}
	}
}

// WithProcessHooks is called right after a test process starts and right
// after it has been reaped.
func WithProcessHooks(spawn, exit func()) Option {
	return func(e *Executor) {
		e.onSpawn = spawn
		e.onExit = exit
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		toolchain:    DefaultToolchain(),
		concurrency:  constants.DefaultConcurrency,
		defaultLimit: constants.DefaultTimeLimit,
		outputLimit:  constants.DefaultOutputLimit,
		onSpawn:      func() {},
		onExit:       func() {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run returns once every test case has a result. Results keep the order of
// cases. report, if not nil, is called as each result becomes available,
// possibly from several goroutines at once.
func (e *Executor) Run(binary, workDir string, cases []models.TestCase, report func(models.TestResult)) ([]models.TestResult, time.Duration) {
	start := time.Now()
	results := make([]models.TestResult, len(cases))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, tc := range cases {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, tc models.TestCase) {
			defer wg.Done()
			defer func() { <-sem }()
			res := e.runOne(binary, workDir, i, tc)
			results[i] = res
			if report != nil {
				report(res)
			}
		}(i, tc)
	}
	wg.Wait()
	return results, time.Since(start)
}

func (e *Executor) runOne(binary, workDir string, index int, tc models.TestCase) models.TestResult {
	limit := tc.TimeLimit(e.defaultLimit)
	res := models.TestResult{
		Index:    index,
		Input:    tc.Input,
		Expected: tc.ExpectedOutput,
		ExitCode: -1,
	}

	args := e.toolchain.runArgs(binary, workDir)
	if len(args) == 0 {
		res.Verdict = constants.TestFailed
		res.Reason = "no run command configured"
		return res
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = e.toolchain.environ()
	cmd.Stdin = strings.NewReader(tc.Input)
	stdout := &cappedBuffer{max: e.outputLimit}
	stderr := &cappedBuffer{max: stderrLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcAttr(cmd)
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.Verdict = constants.TestFailed
		res.Reason = fmt.Sprintf("could not start program: %v", err)
		res.ElapsedMs = time.Since(start).Milliseconds()
		slog.Warn("test process failed to start", "index", index, "err", err)
		return res
	}
	e.onSpawn()

	// armed at spawn so a program that hangs without output is still killed
	wd := startWatchdog(limit, func() {
		if err := killProcess(cmd); err != nil {
			slog.Warn("failed to kill timed out test", "index", index, "err", err)
		}
	})
	err := cmd.Wait()
	elapsed := time.Since(start)
	// a watchdog firing after Wait returned is not a timeout
	killed := wd.stop()
	e.onExit()

	res.ElapsedMs = elapsed.Milliseconds()
	res.ActualOutput = stdout.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case killed && elapsed >= limit:
		res.Verdict = constants.TestTimedOut
		res.ActualOutput = constants.TimeoutOutput
		res.Reason = errs.New(errs.TestTimeout, fmt.Sprintf("Time Limit Exceeded (%dms)", limit.Milliseconds())).Error()
	case err != nil:
		res.Verdict = constants.TestFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Reason = errs.New(errs.SubprocessCrash, fmt.Sprintf("Process exited with code %d", res.ExitCode)).Error()
		} else {
			res.Reason = errs.Wrap(errs.SubprocessCrash, "wait", err).Error()
		}
		if diag := strings.TrimSpace(stderr.String()); diag != "" {
			res.Reason += ": " + diag
		}
	case stdout.overflow:
		res.Verdict = constants.TestFailed
		res.Reason = fmt.Sprintf("Output Limit Exceeded (%d bytes)", e.outputLimit)
	default:
		switch compareOutput(tc.ExpectedOutput, res.ActualOutput) {
		case sameOutput:
			res.Verdict = constants.TestPassed
		case presentationDiff:
			res.Verdict = constants.TestFailed
			res.Reason = "Presentation Error"
		default:
			res.Verdict = constants.TestFailed
			res.Reason = "Wrong Answer"
		}
	}

	slog.Debug("test finished", "index", index, "result", constants.GetTestResultName(res.Verdict), "elapsed_ms", res.ElapsedMs)
	return res
}
