package steps

import "testing"

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append(Entry{Seq: uint64(i)})
	}
	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	var got []uint64
	h.Each(func(e Entry) bool {
		got = append(got, e.Seq)
		return true
	})
	want := []uint64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
}

func TestHistoryEachStops(t *testing.T) {
	h := NewHistory(10)
	for i := 1; i <= 5; i++ {
		h.Append(Entry{Seq: uint64(i)})
	}
	n := 0
	h.Each(func(Entry) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("visited %d entries, want 2", n)
	}
}
