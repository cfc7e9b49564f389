package pubsub

import "testing"

func TestHubLatestWins(t *testing.T) {
	hub := NewHub[int]()
	ch, unsubscribe := hub.Subscribe(2)
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}

	got := []int{<-ch, <-ch}
	if got[0] != 4 || got[1] != 5 {
		t.Fatalf("expected newest values [4 5], got %v", got)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub[string]()
	ch, unsubscribe := hub.Subscribe(1)
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Len())
	}

	hub.Publish("ignored")
}

func TestHubClose(t *testing.T) {
	hub := NewHub[int]()
	ch, unsubscribe := hub.Subscribe(1)
	hub.Close()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after hub close")
	}

	late, _ := hub.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("late subscriber should get a closed channel")
	}
}
