package random

import (
	"testing"
)

func TestSourceDeterminism(t *testing.T) {
	a := New(42)
	b := New(42)

	for i := 0; i < 100; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("draw %d differs for the same seed", i)
		}
	}
	if a.UUID() != b.UUID() {
		t.Error("expected identical UUIDs for the same seed")
	}
	if a.Faker().Company() != b.Faker().Company() {
		t.Error("expected identical faker output for the same seed")
	}

	c := New(43)
	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != c.Float64() {
			same = false
		}
	}
	if same {
		t.Error("expected different sequences for different seeds")
	}
}

func TestSourceDraws(t *testing.T) {
	s := New(7)

	t.Run("IntBetween", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			v := s.IntBetween(9, 17)
			if v < 9 || v > 17 {
				t.Fatalf("value %d out of [9,17]", v)
			}
		}
		if got := s.IntBetween(5, 5); got != 5 {
			t.Errorf("expected 5 for degenerate range, got %d", got)
		}
	})

	t.Run("Uniform", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			v := s.Uniform(0.05, 0.2)
			if v < 0.05 || v >= 0.2 {
				t.Fatalf("value %f out of [0.05,0.2)", v)
			}
		}
	})

	t.Run("BernoulliEdges", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			if s.Bernoulli(0) {
				t.Fatal("p=0 returned true")
			}
			if !s.Bernoulli(1) {
				t.Fatal("p=1 returned false")
			}
		}
	})

	t.Run("SampleDistinct", func(t *testing.T) {
		idx := s.Sample(100, 20)
		if len(idx) != 20 {
			t.Fatalf("expected 20 indices, got %d", len(idx))
		}
		seen := make(map[int]bool)
		for _, i := range idx {
			if i < 0 || i >= 100 {
				t.Fatalf("index %d out of range", i)
			}
			if seen[i] {
				t.Fatalf("duplicate index %d", i)
			}
			seen[i] = true
		}
		if got := len(s.Sample(3, 10)); got != 3 {
			t.Errorf("expected sample clamped to 3, got %d", got)
		}
	})

	t.Run("Digits", func(t *testing.T) {
		d := s.Digits(8)
		if len(d) != 8 {
			t.Fatalf("expected 8 digits, got %q", d)
		}
		for _, r := range d {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in %q", d)
			}
		}
	})

	t.Run("UUIDVersion", func(t *testing.T) {
		id := s.UUID()
		if id.Version() != 4 {
			t.Errorf("expected version 4, got %d", id.Version())
		}
	})
}
