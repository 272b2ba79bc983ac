package stream

import "sync"

// Desired is one (channel, ticker-set) subscription the session must
// keep active.
type Desired struct {
	Channel string
	Tickers []string // Empty for feed-wide channels
}

// SubscriptionSet tracks the desired subscriptions across reconnects.
// It is the single writer of subscription state; the manager reads a
// snapshot on every (re)connect and replays it. The generation counter
// lets replay detect interest added mid-replay so nothing is lost.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs map[string]map[string]struct{} // channel -> ticker set ("" = feed-wide)
	gen  uint64
}

// NewSubscriptionSet returns an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{
		subs: make(map[string]map[string]struct{}),
	}
}

// Add registers interest in a channel, optionally scoped to tickers.
// Adding with no tickers subscribes the whole channel.
func (s *SubscriptionSet) Add(channel string, tickers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[channel]
	if !ok {
		set = make(map[string]struct{})
		s.subs[channel] = set
	}
	if len(tickers) == 0 {
		set[""] = struct{}{}
	}
	for _, t := range tickers {
		set[t] = struct{}{}
	}
	s.gen++
}

// Remove drops interest in the given tickers on a channel, or the
// whole channel when no tickers are given.
func (s *SubscriptionSet) Remove(channel string, tickers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[channel]
	if !ok {
		return
	}
	if len(tickers) == 0 {
		delete(s.subs, channel)
	} else {
		for _, t := range tickers {
			delete(set, t)
		}
		if len(set) == 0 {
			delete(s.subs, channel)
		}
	}
	s.gen++
}

// Snapshot returns the current desired subscriptions and the
// generation they were taken at.
func (s *SubscriptionSet) Snapshot() ([]Desired, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Desired, 0, len(s.subs))
	for channel, set := range s.subs {
		d := Desired{Channel: channel}
		for t := range set {
			if t != "" {
				d.Tickers = append(d.Tickers, t)
			}
		}
		out = append(out, d)
	}
	return out, s.gen
}

// Generation returns the current mutation counter.
func (s *SubscriptionSet) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Len returns the number of subscribed channels.
func (s *SubscriptionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
