package constants

import "time"

// Per-test classification.
const (
	TestPassed   = "passed"
	TestFailed   = "failed"
	TestTimedOut = "timedOut"
)

// Overall status of a verdict or a compile step.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event kinds published on a submission channel.
const (
	EventStarted    = "started"
	EventCompiled   = "compiled"
	EventTestResult = "testResult"
	EventTerminal   = "terminal"
)

const (
	DefaultQueueName      = "submissions"
	DefaultConcurrency    = 10
	DefaultPollInterval   = time.Second
	DefaultTimeLimit      = 2000 * time.Millisecond
	DefaultCompileTimeout = 30 * time.Second
	DefaultPublishRetry   = 3
	DefaultAwaitTimeout   = 120 * time.Second
	DefaultOutputLimit    = 16 << 20

	// BinaryName is the compiler output inside a job's work dir.
	BinaryName = "output"
	// SourceName is the name the producer gives an uploaded source file.
	SourceName = "solution.cpp"
	// VerdictFile is written next to the binary when output saving is on.
	VerdictFile = "output.json"

	// TimeoutOutput replaces the actual output of a timed out test.
	TimeoutOutput = "TLE"

	SessionTopicPrefix = "labsession:"
)

func GetTestResultName(verdict string) string {
	switch verdict {
	case TestPassed:
		return "AC"
	case TestFailed:
		return "WA"
	case TestTimedOut:
		return "TL"
	}
	return "OT"
}
