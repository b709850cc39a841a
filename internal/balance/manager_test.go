package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
	"trading-assistant/internal/transport"
	"trading-assistant/internal/transport/transporttest"
)

func TestReplacePublishesWholeSnapshot(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Account.Subscribe(4)
	defer unsub()
	m := NewManager(nil, 0, nil, bus, zerolog.Nop())

	m.Replace(transport.AccountSnapshot{Balance: 100, Equity: 110, FreeMargin: 90})
	m.Replace(transport.AccountSnapshot{Balance: 200})

	snap := m.Snapshot()
	if snap.Balance != 200 || snap.Equity != 0 || snap.FreeMargin != 0 {
		t.Fatalf("snapshot must be replaced wholesale: %+v", snap)
	}
	if got := <-ch; got.Account.Balance != 100 {
		t.Fatalf("first event=%+v", got)
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not stamped")
	}
}

func TestSyncFromHost(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Account = transport.AccountSnapshot{Balance: 5000, FreeMargin: 4000}
	m := NewManager(fake, 0, nil, nil, zerolog.Nop())
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m.Snapshot().FreeMargin != 4000 {
		t.Fatalf("snapshot=%+v", m.Snapshot())
	}
}

type failingSource struct{}

func (failingSource) GetAccount(ctx context.Context) (transport.AccountSnapshot, error) {
	return transport.AccountSnapshot{}, errors.New("socket closed")
}

func TestSyncErrorIsTransportError(t *testing.T) {
	m := NewManager(failingSource{}, 0, nil, nil, zerolog.Nop())
	m.Replace(transport.AccountSnapshot{Balance: 1})
	err := m.Sync(context.Background())
	if !transport.IsTransport(err) {
		t.Fatalf("err=%v", err)
	}
	if m.Snapshot().Balance != 1 {
		t.Fatalf("failed sync must keep the previous snapshot")
	}
}
