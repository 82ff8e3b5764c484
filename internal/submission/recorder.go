package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/pkg/models"
)

// VerdictSink persists terminal verdicts.
type VerdictSink interface {
	SaveVerdict(ctx context.Context, v *models.Verdict) error
}

// Recorder is the onVerdict hook: it persists a verdict and, once that
// succeeded, forwards a copy to the verdict's lab session channel.
type Recorder struct {
	sink      VerdictSink
	publisher *pubsub.Publisher
}

// NewRecorder accepts a nil sink for deployments without a database.
func NewRecorder(sink VerdictSink, publisher *pubsub.Publisher) *Recorder {
	return &Recorder{sink: sink, publisher: publisher}
}

func (r *Recorder) OnVerdict(ctx context.Context, v *models.Verdict) error {
	if r.sink != nil {
		if err := r.sink.SaveVerdict(ctx, v); err != nil {
			return fmt.Errorf("persist verdict: %w", err)
		}
	}
	if v.LabSessionID == "" || r.publisher == nil {
		return nil
	}
	if err := r.publisher.Publish(ctx, pubsub.SessionTopic(v.LabSessionID), v); err != nil {
		return err
	}
	slog.Info("verdict sent to session", "submission_id", v.SubmissionID, "session_id", v.LabSessionID, "status", v.Status)
	return nil
}
