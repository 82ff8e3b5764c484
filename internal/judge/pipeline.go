package judge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// Emitter receives progress events. Calls are serialised by the pipeline.
type Emitter func(models.Event)

// Pipeline drives one job through Compile, Execute and Aggregate.
type Pipeline struct {
	compiler     *Compiler
	executor     *Executor
	publishTests bool
}

func NewPipeline(compiler *Compiler, executor *Executor, publishTests bool) *Pipeline {
	return &Pipeline{compiler: compiler, executor: executor, publishTests: publishTests}
}

// Run never returns a nil verdict. A compile failure short-circuits the
// pipeline with zero test results. The terminal event is left to the caller,
// which must publish it after everything emitted here.
func (p *Pipeline) Run(ctx context.Context, job *models.Job, emit Emitter) *models.Verdict {
	id := job.SubmissionID()
	logger := slog.Default().With("submission_id", id)
	start := time.Now()

	var mu sync.Mutex
	send := func(ev models.Event) {
		if emit == nil {
			return
		}
		ev.SubmissionID = id
		ev.At = time.Now()
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}

	send(models.Event{Kind: constants.EventStarted})

	if err := job.Validate(); err != nil {
		return FailedVerdict(job, errs.Wrap(errs.MalformedJob, "invalid job", err))
	}
	if info, err := os.Stat(job.WorkDir); err != nil || !info.IsDir() {
		return FailedVerdict(job, fmt.Errorf("work dir %s is not usable: %v", job.WorkDir, err))
	}

	logger.Info("compiling", "source", job.SourcePath)
	compiled := p.compiler.Compile(ctx, job.SourcePath, job.WorkDir)
	send(models.Event{Kind: constants.EventCompiled, Compile: compiled})
	if compiled.Status != constants.StatusSuccess {
		logger.Info("compile failed", "output", compiled.Output)
		v := Aggregate(job, compiled, nil, time.Since(start), nil)
		v.Error = errs.New(errs.CompileFailure, "compiler rejected the source").Error()
		return v
	}

	logger.Info("running tests", "count", len(job.TestCases))
	var report func(models.TestResult)
	if p.publishTests {
		report = func(r models.TestResult) {
			send(models.Event{Kind: constants.EventTestResult, Test: &r})
		}
	}
	results, elapsed := p.executor.Run(compiled.BinaryPath, job.WorkDir, job.TestCases, report)

	v := Aggregate(job, compiled, results, elapsed, nil)
	logger.Info("judged", "status", v.Status, "passed", len(v.Passed), "failed", len(v.Failed), "time_ms", v.TotalElapsedMs)
	return v
}
