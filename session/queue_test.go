package session

import (
	"context"
	"testing"
	"time"
)

func TestInputQueue_Ordering(t *testing.T) {
	q := newInputQueue()
	q.Push("a")
	q.Push("b")

	if msg, ok := q.Next(context.Background()); !ok || msg != "a" {
		t.Fatalf("Next = %q, %v; want a", msg, ok)
	}
	if msg, ok := q.Next(context.Background()); !ok || msg != "b" {
		t.Fatalf("Next = %q, %v; want b", msg, ok)
	}
}

func TestInputQueue_BlocksUntilPush(t *testing.T) {
	q := newInputQueue()
	got := make(chan string, 1)
	go func() {
		msg, _ := q.Next(context.Background())
		got <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("late")

	select {
	case msg := <-got:
		if msg != "late" {
			t.Fatalf("got %q, want late", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Next never woke up")
	}
}

func TestInputQueue_CloseUnblocks(t *testing.T) {
	q := newInputQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Next should report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Next hung after Close")
	}

	if q.Push("x") {
		t.Error("Push after Close should fail")
	}
}

func TestInputQueue_ContextCancel(t *testing.T) {
	q := newInputQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("canceled Next should report no message")
		}
	case <-time.After(time.Second):
		t.Fatal("Next hung after ctx cancel")
	}
}

func TestInputQueue_DrainsAfterClose(t *testing.T) {
	q := newInputQueue()
	q.Push("pending")
	q.Close()

	if msg, ok := q.Next(context.Background()); !ok || msg != "pending" {
		t.Fatalf("Next = %q, %v; queued messages must survive Close", msg, ok)
	}
	if _, ok := q.Next(context.Background()); ok {
		t.Fatal("drained closed queue should report done")
	}
}
