package events

import "testing"

func TestTopicDeliversInOrder(t *testing.T) {
	topic := NewTopic[int]("test")
	ch, unsub := topic.Subscribe(8)
	defer unsub()

	for i := 0; i < 5; i++ {
		if n := topic.Publish(i); n != 1 {
			t.Fatalf("Publish delivered to %d subscribers, expected 1", n)
		}
	}
	for i := 0; i < 5; i++ {
		if got := <-ch; got != i {
			t.Fatalf("received %d, expected %d", got, i)
		}
	}
}

func TestTopicDropsForSlowSubscriber(t *testing.T) {
	topic := NewTopic[string]("slow")
	_, unsub := topic.Subscribe(1)
	defer unsub()

	topic.Publish("a")
	topic.Publish("b")
	topic.Publish("c")

	if got := topic.Dropped(); got != 2 {
		t.Fatalf("Dropped=%d, expected 2", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	topic := NewTopic[int]("unsub")
	ch, unsub := topic.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if topic.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", topic.Subscribers())
	}
	if n := topic.Publish(1); n != 0 {
		t.Fatalf("Publish after unsubscribe delivered to %d", n)
	}
}

func TestBusTopicsAreIndependent(t *testing.T) {
	bus := NewBus()
	conn, unsub := bus.Connection.Subscribe(1)
	defer unsub()

	bus.Trades.Publish(TradeResult{Symbol: "EURUSD"})
	bus.Connection.Publish(ConnectionStatus{State: "connected"})

	if st := <-conn; st.State != "connected" {
		t.Fatalf("unexpected status %+v", st)
	}
	if d := bus.Dropped()[EventTradeResult]; d != 0 {
		t.Fatalf("publishing without subscribers should not count drops, got %d", d)
	}
}
