package ingest

import (
	"fmt"
	"testing"
)

func TestWindow_DetectsDuplicates(t *testing.T) {
	w := NewWindow(16)

	if w.Observe("T1:abc") {
		t.Error("first Observe reported duplicate")
	}
	if !w.Observe("T1:abc") {
		t.Error("second Observe did not report duplicate")
	}
	if w.Observe("T1:def") {
		t.Error("distinct key reported duplicate")
	}
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)

	w.Observe("a")
	w.Observe("b")
	w.Observe("c")
	w.Observe("d") // evicts "a"

	if w.Observe("a") {
		t.Error("evicted key still reported duplicate")
	}
	if !w.Observe("d") {
		t.Error("recent key not reported duplicate")
	}
	if w.Len() > 3 {
		t.Errorf("Len = %d exceeds capacity 3", w.Len())
	}
}

func TestWindow_CapacityHeldUnderChurn(t *testing.T) {
	w := NewWindow(8)
	for i := 0; i < 1000; i++ {
		w.Observe(fmt.Sprintf("key-%d", i))
		if w.Len() > 8 {
			t.Fatalf("Len = %d exceeds capacity 8", w.Len())
		}
	}
}
