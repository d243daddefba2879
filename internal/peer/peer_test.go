package peer

import (
	"sync"
	"testing"
	"time"
)

func TestMailboxRunsPostedTasksInOrder(t *testing.T) {
	m := NewMailbox(0)
	defer m.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		m.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strict FIFO order, got %v", order)
		}
	}
}

func TestMailboxPostAfterCloseIsDropped(t *testing.T) {
	m := NewMailbox(0)
	m.Close()

	ran := make(chan struct{}, 1)
	m.Post(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("task should not run after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionSetStateRejectsIllegalTransition(t *testing.T) {
	c := NewConnection(0)
	defer c.Close()

	if err := c.SetState(Tunneling); err == nil {
		t.Fatal("expected DISCONNECTED -> TUNNELING to be rejected")
	}
	if c.State() != Disconnected {
		t.Fatalf("state should be unchanged after rejected transition, got %s", c.State())
	}
}

func TestConnectionSetStateFiresOnTransition(t *testing.T) {
	c := NewConnection(0)
	defer c.Close()

	var got [2]State
	c.OnTransition = func(from, to State) { got = [2]State{from, to} }

	if err := c.SetState(AwaitingInitial); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != [2]State{Disconnected, AwaitingInitial} {
		t.Fatalf("unexpected transition record: %v", got)
	}
}
