package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := NewRedisQueueFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "submissions")
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func testJob(student, question string) *models.Job {
	return &models.Job{
		StudentID:  student,
		QuestionID: question,
		SourcePath: "/tmp/" + student + "/solution.cpp",
		WorkDir:    "/tmp/" + student,
		TestCases:  []models.TestCase{{Input: "3 4", ExpectedOutput: "7", TimeLimitMs: 2000}},
	}
}

func TestRedisQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, testJob(fmt.Sprint(i), "1")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if job.StudentID != fmt.Sprint(i) {
			t.Errorf("dequeued student %s, want %d", job.StudentID, i)
		}
		if len(job.TestCases) != 1 || job.TestCases[0].ExpectedOutput != "7" {
			t.Errorf("test cases lost in transit: %+v", job.TestCases)
		}
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Dequeue on empty queue = %v, want ErrEmpty", err)
	}
}

func TestRedisQueueMalformedJob(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	mr.Lpush("submissions", "{not json")
	mr.Lpush("submissions", `{"studentId":"1"}`)
	mr.Lpush("submissions", `{"studentId":"1","questionId":"2","solutionFilePath":"uploads/1/2/solution.cpp","dirPath":"uploads/1/2"}`)

	for i := 0; i < 3; i++ {
		_, err := q.Dequeue(ctx)
		if !errs.IsCode(err, errs.MalformedJob) {
			t.Fatalf("Dequeue #%d = %v, want MalformedJob", i, err)
		}
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("malformed payloads were not dropped: %v", err)
	}
}

func TestRedisQueueUnavailable(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()
	ctx := context.Background()

	if _, err := q.Dequeue(ctx); !errs.IsCode(err, errs.QueueUnavailable) {
		t.Errorf("Dequeue = %v, want QueueUnavailable", err)
	}
	if err := q.Enqueue(ctx, testJob("1", "1")); !errs.IsCode(err, errs.QueueUnavailable) {
		t.Errorf("Enqueue = %v, want QueueUnavailable", err)
	}
}

func TestRedisQueueExactlyOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const jobs, workers = 200, 8
	for i := 0; i < jobs; i++ {
		if err := q.Enqueue(ctx, testJob(fmt.Sprint(i), "q")); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(ctx)
				if errors.Is(err, ErrEmpty) {
					return
				}
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[job.StudentID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("saw %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s delivered %d times", id, n)
		}
	}
}

func TestRedisQueueLen(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q.Enqueue(ctx, testJob(fmt.Sprint(i), "1"))
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("Len = %d, %v; want 3", n, err)
	}
	q.Dequeue(ctx)
	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("Len after Dequeue = %d, want 2", n)
	}
	mr.Close()
	if _, err := q.Len(ctx); !errs.IsCode(err, errs.QueueUnavailable) {
		t.Errorf("Len = %v, want QueueUnavailable", err)
	}
}
