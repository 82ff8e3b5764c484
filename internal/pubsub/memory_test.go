package pubsub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription %s closed", sub.ID)
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting on %s", sub.Topic)
	}
	return ""
}

func expectNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected message %q on %s", msg, sub.Topic)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	a, _ := bus.Subscribe(ctx, "labsession:1")
	b, _ := bus.Subscribe(ctx, "labsession:1")
	other, _ := bus.Subscribe(ctx, "labsession:2")

	if err := bus.Publish(ctx, "labsession:1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, a); got != "v1" {
		t.Errorf("a got %q", got)
	}
	if got := recv(t, b); got != "v1" {
		t.Errorf("b got %q", got)
	}
	expectNothing(t, other)
	// at most once
	expectNothing(t, a)
}

func TestMemoryBusNoReplay(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	bus.Publish(ctx, "s", []byte("before"))
	late, _ := bus.Subscribe(ctx, "s")
	expectNothing(t, late)

	bus.Publish(ctx, "s", []byte("after"))
	if got := recv(t, late); got != "after" {
		t.Errorf("late subscriber got %q, want after", got)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "s")
	if err := bus.Unsubscribe("s", sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	if n := bus.Listeners("s"); n != 0 {
		t.Errorf("Listeners = %d after last unsubscribe", n)
	}
	// second call is a no-op
	if err := bus.Unsubscribe("s", sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, "s", []byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	sub, _ := bus.Subscribe(ctx, "s")
	bus.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after Close")
	}
	if err := bus.Publish(ctx, "s", nil); err != ErrClosed {
		t.Errorf("Publish after Close = %v", err)
	}
	if _, err := bus.Subscribe(ctx, "s"); err != ErrClosed {
		t.Errorf("Subscribe after Close = %v", err)
	}
}

func TestMemoryBusConcurrentChurn(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := bus.Subscribe(ctx, "s")
				if err != nil {
					t.Error(err)
					return
				}
				bus.Publish(ctx, "s", []byte(fmt.Sprint(i, j)))
				bus.Unsubscribe("s", sub.ID)
			}
		}(i)
	}
	wg.Wait()
	if n := bus.Listeners("s"); n != 0 {
		t.Errorf("Listeners = %d after churn", n)
	}
}

func TestMemoryBusFullBufferKeepsNewest(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()
	sub, _ := bus.Subscribe(ctx, "1-2")

	const published = 100
	for i := range published {
		bus.Publish(ctx, "1-2", []byte(fmt.Sprint(i)))
	}

	var got []string
	for len(sub.C) > 0 {
		got = append(got, string(<-sub.C))
	}
	if len(got) != subscriberBuffer {
		t.Fatalf("buffered %d messages, want %d", len(got), subscriberBuffer)
	}
	if got[0] != fmt.Sprint(published-subscriberBuffer) || got[len(got)-1] != fmt.Sprint(published-1) {
		t.Errorf("kept %s..%s, want the newest %d", got[0], got[len(got)-1], subscriberBuffer)
	}
}
