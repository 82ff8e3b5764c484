package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/internal/queue"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

type fakeSink struct {
	mu    sync.Mutex
	saved []*models.Verdict
	err   error
}

func (s *fakeSink) SaveVerdict(ctx context.Context, v *models.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, v)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fixture struct {
	mr    *miniredis.Miniredis
	queue *queue.RedisQueue
	bus   *pubsub.MemoryBus
	pub   *pubsub.Publisher
	sink  *fakeSink
	svc   *Service
}

func newFixture(t *testing.T, awaitTimeout time.Duration) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewRedisQueueFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "submissions")
	bus := pubsub.NewMemoryBus()
	pub := pubsub.NewPublisher(bus, 1)
	sink := &fakeSink{}
	t.Cleanup(func() {
		bus.Close()
		q.Close()
	})
	return &fixture{
		mr: mr, queue: q, bus: bus, pub: pub, sink: sink,
		svc: NewService(q, bus, NewRecorder(sink, pub), awaitTimeout),
	}
}

func testJob() *models.Job {
	return &models.Job{
		StudentID: "42", QuestionID: "7", LabSessionID: "3",
		SourcePath: "/tmp/42/7/solution.cpp", WorkDir: "/tmp/42/7",
		TestCases: []models.TestCase{{Input: "3 4", ExpectedOutput: "7"}},
	}
}

func drain(t *testing.T, st *Stream) []models.Event {
	t.Helper()
	var events []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.C:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream never closed")
		}
	}
}

func TestAwaitEndsAfterTerminal(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()
	id := models.SubmissionID("42-7")

	st, err := f.svc.Await(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	topic := pubsub.SubmissionTopic(id)
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventStarted})
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventCompiled})
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTerminal, Verdict: &models.Verdict{Status: constants.StatusSuccess, Terminal: true}})

	events := drain(t, st)
	if st.Err() != nil {
		t.Fatalf("Err = %v", st.Err())
	}
	if len(events) != 3 || events[2].Kind != constants.EventTerminal {
		t.Fatalf("events = %+v", events)
	}
	// the stream released its subscription
	deadline := time.Now().Add(time.Second)
	for f.bus.Listeners(topic) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := f.bus.Listeners(topic); n != 0 {
		t.Errorf("%d listeners left on %s", n, topic)
	}
}

func TestAwaitTimeout(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	st, err := f.svc.Await(context.Background(), "1-1")
	if err != nil {
		t.Fatal(err)
	}
	if events := drain(t, st); len(events) != 0 {
		t.Errorf("events = %+v", events)
	}
	if !errors.Is(st.Err(), ErrAwaitTimeout) {
		t.Errorf("Err = %v, want ErrAwaitTimeout", st.Err())
	}
}

func TestAwaitCallerCancels(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	st, _ := f.svc.Await(ctx, "1-1")
	cancel()
	drain(t, st)
	if !errors.Is(st.Err(), context.Canceled) {
		t.Errorf("Err = %v", st.Err())
	}
}

func TestSubmitRecordsVerdictAndNotifiesSession(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()
	session, _ := f.bus.Subscribe(ctx, pubsub.SessionTopic("3"))

	job := testJob()
	st, err := f.svc.Submit(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	queued, err := f.queue.Dequeue(ctx)
	if err != nil || queued.SubmissionID() != "42-7" || queued.EnqueuedAt.IsZero() {
		t.Fatalf("queued job = %+v, %v", queued, err)
	}

	v := &models.Verdict{SubmissionID: "42-7", LabSessionID: "3", Status: constants.StatusSuccess, Terminal: true}
	topic := pubsub.SubmissionTopic("42-7")
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTerminal, Verdict: v})

	events := drain(t, st)
	if len(events) != 1 || st.Err() != nil {
		t.Fatalf("events = %+v, err = %v", events, st.Err())
	}
	if f.sink.count() != 1 {
		t.Errorf("saved %d verdicts, want 1", f.sink.count())
	}
	select {
	case msg := <-session.C:
		if len(msg) == 0 {
			t.Error("empty session message")
		}
	case <-time.After(time.Second):
		t.Error("session channel did not receive the verdict")
	}
}

func TestSubmitQueueUnavailable(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.mr.Close()

	_, err := f.svc.Submit(context.Background(), testJob())
	if !errs.IsCode(err, errs.QueueUnavailable) {
		t.Fatalf("err = %v, want QueueUnavailable", err)
	}
	deadline := time.Now().Add(time.Second)
	for f.bus.Listeners("42-7") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := f.bus.Listeners("42-7"); n != 0 {
		t.Errorf("subscription leaked after failed enqueue (%d)", n)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.svc.Enqueue(context.Background(), &models.Job{StudentID: "1"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRecorderSkipsSessionWhenPersistFails(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	session, _ := bus.Subscribe(ctx, pubsub.SessionTopic("3"))

	r := NewRecorder(&fakeSink{err: errors.New("db down")}, pubsub.NewPublisher(bus, 1))
	if err := r.OnVerdict(ctx, &models.Verdict{SubmissionID: "1-1", LabSessionID: "3"}); err == nil {
		t.Fatal("expected persistence error")
	}
	select {
	case <-session.C:
		t.Error("unpersisted verdict reached the session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAwaitKeepsTerminalForLateReader(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()
	id := models.SubmissionID("42-7")

	st, err := f.svc.Await(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	topic := pubsub.SubmissionTopic(id)
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventStarted})
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventCompiled})
	for i := range 100 {
		f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTestResult, Test: &models.TestResult{Index: i}})
	}
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTerminal, Verdict: &models.Verdict{Terminal: true}})

	// the reader only starts once everything has been published
	time.Sleep(100 * time.Millisecond)
	events := drain(t, st)
	if st.Err() != nil {
		t.Fatalf("Err = %v after %d events", st.Err(), len(events))
	}
	if len(events) != 103 {
		t.Errorf("got %d events, want 103", len(events))
	}
	if last := events[len(events)-1]; last.Kind != constants.EventTerminal {
		t.Errorf("last event = %s, want terminal", last.Kind)
	}
}

func TestSubmitRecordsVerdictForLateReader(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	st, err := f.svc.Submit(ctx, testJob())
	if err != nil {
		t.Fatal(err)
	}
	topic := pubsub.SubmissionTopic("42-7")
	for i := range 100 {
		f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTestResult, Test: &models.TestResult{Index: i}})
	}
	f.pub.Publish(ctx, topic, models.Event{Kind: constants.EventTerminal,
		Verdict: &models.Verdict{SubmissionID: "42-7", Status: constants.StatusSuccess, Terminal: true}})

	time.Sleep(100 * time.Millisecond)
	events := drain(t, st)
	if st.Err() != nil || events[len(events)-1].Kind != constants.EventTerminal {
		t.Fatalf("err = %v, last = %+v", st.Err(), events[len(events)-1])
	}
	if f.sink.count() != 1 {
		t.Errorf("saved %d verdicts, want 1", f.sink.count())
	}
}
