package stream

import (
	"sort"
	"testing"
)

func TestSubscriptionSet_AddRemove(t *testing.T) {
	s := NewSubscriptionSet()

	s.Add("trade")
	s.Add("ticker", "AAA", "BBB")

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	desired, gen := s.Snapshot()
	if gen == 0 {
		t.Error("generation should advance on Add")
	}
	if len(desired) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(desired))
	}

	for _, d := range desired {
		switch d.Channel {
		case "trade":
			if len(d.Tickers) != 0 {
				t.Errorf("trade tickers = %v, want none", d.Tickers)
			}
		case "ticker":
			sort.Strings(d.Tickers)
			if len(d.Tickers) != 2 || d.Tickers[0] != "AAA" || d.Tickers[1] != "BBB" {
				t.Errorf("ticker tickers = %v, want [AAA BBB]", d.Tickers)
			}
		default:
			t.Errorf("unexpected channel %q", d.Channel)
		}
	}

	s.Remove("ticker", "AAA")
	desired, _ = s.Snapshot()
	for _, d := range desired {
		if d.Channel == "ticker" {
			if len(d.Tickers) != 1 || d.Tickers[0] != "BBB" {
				t.Errorf("after remove, ticker tickers = %v, want [BBB]", d.Tickers)
			}
		}
	}

	s.Remove("ticker", "BBB")
	if s.Len() != 1 {
		t.Errorf("empty channel should be dropped, Len = %d, want 1", s.Len())
	}

	s.Remove("trade")
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestSubscriptionSet_GenerationDetectsMidReplayAdds(t *testing.T) {
	s := NewSubscriptionSet()
	s.Add("trade")

	_, gen := s.Snapshot()
	if s.Generation() != gen {
		t.Fatal("generation should be stable with no mutation")
	}

	// A request arriving mid-replay bumps the generation, forcing
	// another replay pass.
	s.Add("ticker", "CCC")
	if s.Generation() == gen {
		t.Error("generation should advance on mid-replay Add")
	}
}

func TestSubscriptionSet_AddIsIdempotent(t *testing.T) {
	s := NewSubscriptionSet()
	s.Add("trade")
	s.Add("trade")

	desired, _ := s.Snapshot()
	if len(desired) != 1 {
		t.Fatalf("snapshot has %d entries, want 1", len(desired))
	}
}
