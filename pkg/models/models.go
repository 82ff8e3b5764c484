package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SubmissionID identifies one student's attempt at one question. It is also
// the name of the submission's result channel.
type SubmissionID string

func NewSubmissionID(studentID, questionID string) SubmissionID {
	return SubmissionID(studentID + "-" + questionID)
}

// ParseSubmissionID splits an id back into student and question parts.
func ParseSubmissionID(s string) (studentID, questionID string, err error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("invalid submission id %q", s)
	}
	return s[:i], s[i+1:], nil
}

// TestCase is one input/expected-output pair. TimeLimitMs of zero means the
// worker's default limit.
type TestCase struct {
	Input          string `json:"input" toml:"input"`
	ExpectedOutput string `json:"output" toml:"output"`
	TimeLimitMs    int    `json:"timeLimit,omitempty" toml:"time_limit"`
}

func (tc TestCase) TimeLimit(def time.Duration) time.Duration {
	if tc.TimeLimitMs <= 0 {
		return def
	}
	return time.Duration(tc.TimeLimitMs) * time.Millisecond
}

// Job is immutable once enqueued.
type Job struct {
	StudentID    string     `json:"studentId"`
	QuestionID   string     `json:"questionId"`
	LabSessionID string     `json:"labSessionId,omitempty"`
	SourcePath   string     `json:"solutionFilePath"`
	WorkDir      string     `json:"dirPath"`
	TestCases    []TestCase `json:"testCases"`
	EnqueuedAt   time.Time  `json:"enqueuedAt,omitempty"`
}

func (j *Job) SubmissionID() SubmissionID {
	return NewSubmissionID(j.StudentID, j.QuestionID)
}

// Validate reports the first structural problem with a dequeued job. Paths
// must be absolute: the compiler and the program run inside WorkDir.
func (j *Job) Validate() error {
	switch {
	case j.StudentID == "":
		return fmt.Errorf("missing studentId")
	case j.QuestionID == "":
		return fmt.Errorf("missing questionId")
	case j.SourcePath == "":
		return fmt.Errorf("missing solutionFilePath")
	case j.WorkDir == "":
		return fmt.Errorf("missing dirPath")
	case !filepath.IsAbs(j.SourcePath):
		return fmt.Errorf("solutionFilePath %q is not absolute", j.SourcePath)
	case !filepath.IsAbs(j.WorkDir):
		return fmt.Errorf("dirPath %q is not absolute", j.WorkDir)
	}
	return nil
}

// CompileResult is the outcome of the compiler stage.
type CompileResult struct {
	Status string `json:"status"`
	Output string `json:"output"`
	// BinaryPath is empty when compilation failed.
	BinaryPath string `json:"-"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

// TestResult is produced once per test case and never mutated.
type TestResult struct {
	Index        int    `json:"index"`
	Input        string `json:"input"`
	Expected     string `json:"expected"`
	ActualOutput string `json:"output"`
	Verdict      string `json:"verdict"`
	ElapsedMs    int64  `json:"elapsedMs"`
	ExitCode     int    `json:"exitCode"`
	Reason       string `json:"reason,omitempty"`
}

// Verdict is the single persisted outcome of a job.
type Verdict struct {
	SubmissionID   SubmissionID `json:"submissionId"`
	StudentID      string       `json:"studentId"`
	QuestionID     string       `json:"questionId"`
	LabSessionID   string       `json:"labSessionId,omitempty"`
	Passed         []TestResult `json:"passed"`
	Failed         []TestResult `json:"failed"`
	TotalElapsedMs int64        `json:"time"`
	Status         string       `json:"status"`
	CompileOutput  string       `json:"compileOutput,omitempty"`
	Error          string       `json:"error,omitempty"`
	Terminal       bool         `json:"end"`
	CompletedAt    time.Time    `json:"completedAt"`
}

// Event is a transient message on a submission channel.
type Event struct {
	Kind         string         `json:"kind"`
	SubmissionID SubmissionID   `json:"submissionId"`
	At           time.Time      `json:"at"`
	Compile      *CompileResult `json:"compile,omitempty"`
	Test         *TestResult    `json:"test,omitempty"`
	Verdict      *Verdict       `json:"verdict,omitempty"`
}
