package ubidots

import (
	"fmt"
	"testing"
)

func TestBuffer_AddWithinCapacity(t *testing.T) {
	var b Buffer
	for i := 0; i < MaxValues; i++ {
		if !b.Add(Record{Label: fmt.Sprintf("v%d", i), Value: float64(i)}) {
			t.Fatalf("Add #%d reported overflow", i+1)
		}
	}
	if b.Len() != MaxValues {
		t.Fatalf("Len() = %d, want %d", b.Len(), MaxValues)
	}
	for i, r := range b.Records() {
		if want := fmt.Sprintf("v%d", i); r.Label != want {
			t.Errorf("Records()[%d].Label = %q, want %q", i, r.Label, want)
		}
	}
}

func TestBuffer_OverflowOverwritesLastSlot(t *testing.T) {
	var b Buffer
	for i := 0; i < MaxValues; i++ {
		b.Add(Record{Label: fmt.Sprintf("v%d", i)})
	}

	if b.Add(Record{Label: "sixth", Value: 6}) {
		t.Error("sixth Add should report overflow")
	}
	if b.Len() != MaxValues {
		t.Errorf("Len() = %d after overflow, want %d", b.Len(), MaxValues)
	}
	recs := b.Records()
	if recs[MaxValues-1].Label != "sixth" {
		t.Errorf("last slot = %q, want %q", recs[MaxValues-1].Label, "sixth")
	}
	if recs[MaxValues-2].Label != "v3" {
		t.Errorf("slot %d = %q, want v3 (untouched)", MaxValues-2, recs[MaxValues-2].Label)
	}

	b.Add(Record{Label: "seventh"})
	if got := b.Records()[MaxValues-1].Label; got != "seventh" {
		t.Errorf("last slot after seventh Add = %q, want %q", got, "seventh")
	}
}

func TestBuffer_Reset(t *testing.T) {
	var b Buffer
	b.Add(Record{Label: "a"})
	b.Add(Record{Label: "b"})
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", b.Len())
	}
	if len(b.Records()) != 0 {
		t.Errorf("Records() has %d entries after Reset", len(b.Records()))
	}
	b.Add(Record{Label: "c"})
	if got := b.Records()[0].Label; got != "c" {
		t.Errorf("first record after Reset = %q, want c", got)
	}
}
