package alert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/arshiaxbt/Valshi/internal/model"
)

// fakeDeliverer records sends and can fail for selected subscribers.
type fakeDeliverer struct {
	mu     sync.Mutex
	sent   []int64
	failID int64
}

func (d *fakeDeliverer) Send(_ context.Context, subscriberID int64, _ model.AlertJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if subscriberID == d.failID {
		return errors.New("chat unreachable")
	}
	d.sent = append(d.sent, subscriberID)
	return nil
}

func (d *fakeDeliverer) sentIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.sent...)
}

func job(ticker, tradeID string) model.AlertJob {
	return model.AlertJob{
		ID:       uuid.New(),
		Trade:    model.Trade{Ticker: ticker, TradeID: tradeID, Price: 0.52, Size: 20000, TakerSide: "yes"},
		Notional: 10400,
	}
}

func profiles(ids ...int64) []model.SubscriberProfile {
	out := make([]model.SubscriberProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.SubscriberProfile{ID: id, Enabled: true})
	}
	return out
}

func TestFanout_DeliversToAllMatches(t *testing.T) {
	d := &fakeDeliverer{failID: -1}
	f := NewFanout(d, 128, nil)

	f.Deliver(context.Background(), job("PRES-2024-DEM", "t1"), profiles(1, 2, 3))

	if got := d.sentIDs(); len(got) != 3 {
		t.Errorf("sent to %v, want 3 subscribers", got)
	}
	if stats := f.Stats(); stats.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", stats.Delivered)
	}
}

func TestFanout_OneFailureDoesNotBlockOthers(t *testing.T) {
	d := &fakeDeliverer{failID: 2}
	f := NewFanout(d, 128, nil)

	f.Deliver(context.Background(), job("PRES-2024-DEM", "t1"), profiles(1, 2, 3))

	got := d.sentIDs()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("sent to %v, want [1 3]", got)
	}

	stats := f.Stats()
	if stats.Delivered != 2 || stats.Failures != 1 {
		t.Errorf("stats = %+v, want 2 delivered 1 failure", stats)
	}
}

func TestFanout_SuppressesRepeatDelivery(t *testing.T) {
	d := &fakeDeliverer{failID: -1}
	f := NewFanout(d, 128, nil)

	j := job("BTC-100K", "t9")
	f.Deliver(context.Background(), j, profiles(1))
	f.Deliver(context.Background(), j, profiles(1))

	if got := d.sentIDs(); len(got) != 1 {
		t.Errorf("sent %d times, want 1", len(got))
	}
	if stats := f.Stats(); stats.Suppressed != 1 {
		t.Errorf("Suppressed = %d, want 1", stats.Suppressed)
	}
}

func TestFanout_FailedSendRetriesOnNextDelivery(t *testing.T) {
	d := &fakeDeliverer{failID: 5}
	f := NewFanout(d, 128, nil)

	j := job("BTC-100K", "t9")
	f.Deliver(context.Background(), j, profiles(5))

	// The delivery failed, so the pair is not remembered and the
	// next evaluation may try again.
	d.mu.Lock()
	d.failID = -1
	d.mu.Unlock()

	f.Deliver(context.Background(), j, profiles(5))

	if got := d.sentIDs(); len(got) != 1 {
		t.Errorf("sent %d times after recovery, want 1", len(got))
	}
	if stats := f.Stats(); stats.Failures != 1 || stats.Delivered != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
