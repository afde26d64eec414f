package tap

import "testing"

func TestSequencer_AssignsDenseMonotonicIDs(t *testing.T) {
	in := make(chan RawTap, 10)
	out := make(chan TapEvent, 10)

	for i := 0; i < 5; i++ {
		in <- RawTap{Direction: Outbound, Bytes: []byte("x"), ObservedTsMs: int64(i)}
	}
	close(in)

	seq := NewSequencer(in, out)
	seq.Run()

	var got []uint64
	for ev := range out {
		got = append(got, ev.EventID)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, id := range got {
		if id != uint64(i+1) {
			t.Errorf("event %d: expected id %d, got %d", i, i+1, id)
		}
	}
}

func TestSequencer_PreservesInputOrder(t *testing.T) {
	in := make(chan RawTap, 4)
	out := make(chan TapEvent, 4)

	in <- RawTap{Direction: Outbound, Bytes: []byte("a")}
	in <- RawTap{Direction: Inbound, Bytes: []byte("b")}
	in <- RawTap{Direction: Outbound, Bytes: []byte("c")}
	close(in)

	seq := NewSequencer(in, out)
	seq.Run()

	want := []string{"a", "b", "c"}
	i := 0
	for ev := range out {
		if string(ev.Bytes) != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ev.Bytes)
		}
		i++
	}
}
