package negotiation

import (
	"errors"
	"testing"
)

func cand(s string) Candidate { return Candidate{Candidate: s} }

func collect(out *[]string) ApplyFunc {
	return func(c Candidate) error {
		*out = append(*out, c.Candidate)
		return nil
	}
}

func TestBufferHoldsUntilReady(t *testing.T) {
	b := NewBuffer()
	var applied []string

	b.Offer("k1", cand("c1"))
	b.Offer("k2", cand("c2"))
	if n, _ := b.DrainIfReady(false, collect(&applied)); n != 0 || len(applied) != 0 {
		t.Fatalf("applied %d before ready", n)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d", b.Len())
	}

	b.Offer("k3", cand("c3"))
	n, err := b.DrainIfReady(true, collect(&applied))
	if err != nil || n != 3 {
		t.Fatalf("DrainIfReady = %d, %v", n, err)
	}
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied %v, want %v", applied, want)
		}
	}
	if b.Len() != 0 || b.Applied() != 3 {
		t.Fatalf("Len() = %d, Applied() = %d", b.Len(), b.Applied())
	}
}

func TestBufferDeduplicatesByKey(t *testing.T) {
	b := NewBuffer()
	var applied []string

	if !b.Offer("k1", cand("c1")) {
		t.Fatal("first offer rejected")
	}
	if b.Offer("k1", cand("c1")) {
		t.Fatal("duplicate queued")
	}
	b.DrainIfReady(true, collect(&applied))
	if b.Offer("k1", cand("c1")) {
		t.Fatal("applied candidate queued again")
	}
	b.DrainIfReady(true, collect(&applied))
	if len(applied) != 1 {
		t.Fatalf("applied %v, want exactly one", applied)
	}
}

func TestBufferLateCandidateAppliesImmediately(t *testing.T) {
	b := NewBuffer()
	var applied []string
	b.DrainIfReady(true, collect(&applied))

	b.Offer("k9", cand("late"))
	if n, _ := b.TryApply(func() bool { return true }, collect(&applied)); n != 1 {
		t.Fatalf("late candidate not applied, n = %d", n)
	}
}

func TestBufferApplyErrorConsumesCandidate(t *testing.T) {
	b := NewBuffer()
	b.Offer("bad", cand("bad"))
	b.Offer("good", cand("good"))

	boom := errors.New("malformed candidate")
	var applied []string
	n, err := b.DrainIfReady(true, func(c Candidate) error {
		if c.Candidate == "bad" {
			return boom
		}
		applied = append(applied, c.Candidate)
		return nil
	})
	if n != 1 || !errors.Is(err, boom) {
		t.Fatalf("DrainIfReady = %d, %v", n, err)
	}
	if b.Len() != 0 {
		t.Fatal("failed candidate left in queue")
	}
	if len(applied) != 1 || applied[0] != "good" {
		t.Fatalf("applied = %v", applied)
	}
}
