package judge

import (
	"time"

	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// Aggregate folds a job's compile outcome and test results into its Verdict.
// The status is success only when compilation succeeded, nothing went wrong
// in the pipeline, and every test passed. Both partitions keep test order.
func Aggregate(job *models.Job, compile *models.CompileResult, results []models.TestResult, total time.Duration, pipelineErr error) *models.Verdict {
	v := &models.Verdict{
		SubmissionID:   job.SubmissionID(),
		StudentID:      job.StudentID,
		QuestionID:     job.QuestionID,
		LabSessionID:   job.LabSessionID,
		Passed:         []models.TestResult{},
		Failed:         []models.TestResult{},
		TotalElapsedMs: total.Milliseconds(),
		Status:         constants.StatusSuccess,
		Terminal:       true,
		CompletedAt:    time.Now(),
	}
	if pipelineErr != nil {
		v.Status = constants.StatusFailed
		v.Error = pipelineErr.Error()
	}
	if compile != nil && compile.Status != constants.StatusSuccess {
		v.Status = constants.StatusFailed
		v.CompileOutput = compile.Output
		return v
	}
	if compile == nil {
		v.Status = constants.StatusFailed
	}
	for _, r := range results {
		if r.Verdict == constants.TestPassed {
			v.Passed = append(v.Passed, r)
		} else {
			v.Failed = append(v.Failed, r)
		}
	}
	if len(v.Failed) > 0 {
		v.Status = constants.StatusFailed
	}
	return v
}

// FailedVerdict is the terminal verdict for a job whose pipeline broke
// before producing results.
func FailedVerdict(job *models.Job, err error) *models.Verdict {
	return Aggregate(job, nil, nil, 0, err)
}
