package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCode(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"direct", New(MalformedJob, "bad json"), MalformedJob, true},
		{"wrapped", fmt.Errorf("dequeue: %w", Wrap(QueueUnavailable, "rpop", base)), QueueUnavailable, true},
		{"nested code", Wrap(ChannelPublishFailure, "terminal", Wrap(QueueUnavailable, "rpop", base)), QueueUnavailable, true},
		{"outer code", Wrap(ChannelPublishFailure, "terminal", Wrap(QueueUnavailable, "rpop", base)), ChannelPublishFailure, true},
		{"other code", New(CompileFailure, "x"), TestTimeout, false},
		{"plain error", base, QueueUnavailable, false},
		{"nil", nil, QueueUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorsIsAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("publish: %w", Wrap(ChannelPublishFailure, "redis", base))
	if !errors.Is(err, &Err{Code: ChannelPublishFailure}) {
		t.Fatal("errors.Is did not match by code")
	}
	if !errors.Is(err, base) {
		t.Fatal("underlying error not reachable")
	}
	if got := New(TestTimeout, "1000ms").Error(); got != "TestTimeout: 1000ms" {
		t.Errorf("Error() = %q", got)
	}
}
