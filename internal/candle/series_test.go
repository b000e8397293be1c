package candle

import (
	"math/rand"
	"testing"
)

func mk(x int64, p float64) Candle {
	return Candle{X: x, O: p, H: p + 1, L: p - 1, C: p, V: 100}
}

// assertOrdered checks strictly increasing timestamps.
func assertOrdered(t *testing.T, got []Candle) {
	t.Helper()
	for i := 1; i < len(got); i++ {
		if got[i].X <= got[i-1].X {
			t.Fatalf("series not strictly increasing at %d: %d then %d", i, got[i-1].X, got[i].X)
		}
	}
}

func TestMergeFirstWriteWins(t *testing.T) {
	s := NewSeries(0)
	orig := Candle{X: 1640995200000, O: 150.0, H: 155.0, L: 145.0, C: 152.0, V: 1000000}
	s.Replace([]Candle{orig})

	added := s.Merge([]Candle{{X: 1640995200000, O: 999, H: 999, L: 999, C: 999, V: 1}})
	if added != 0 {
		t.Fatalf("added = %d, want 0", added)
	}
	got := s.Candles()
	if len(got) != 1 || got[0] != orig {
		t.Fatalf("cache = %+v, want only %+v", got, orig)
	}
}

func TestMergeOutOfOrderAndDuplicatesInBatch(t *testing.T) {
	s := NewSeries(10)
	s.Replace([]Candle{mk(20, 10)})

	added := s.Merge([]Candle{mk(40, 1), mk(10, 2), mk(40, 3), mk(30, 4), mk(20, 5)})
	if added != 3 {
		t.Fatalf("added = %d, want 3", added)
	}
	got := s.Candles()
	assertOrdered(t, got)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	// first occurrence of x=40 in the batch wins
	if got[3].O != 1 {
		t.Errorf("x=40 open = %v, want 1", got[3].O)
	}
	if got[1].O != 10 {
		t.Errorf("x=20 kept cached value, got open %v", got[1].O)
	}
}

func TestMergeEvictsOldest(t *testing.T) {
	s := NewSeries(3)
	s.Merge([]Candle{mk(1, 1), mk(2, 2), mk(3, 3)})
	s.Merge([]Candle{mk(4, 4), mk(5, 5)})

	got := s.Candles()
	if len(got) != 3 || got[0].X != 3 || got[2].X != 5 {
		t.Fatalf("got %+v, want x=3..5", got)
	}
	last, ok := s.Last()
	if !ok || last.X != 5 {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestMergeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		base := make([]Candle, 0, 20)
		for i := 0; i < 20; i++ {
			base = append(base, mk(rng.Int63n(40), float64(i+1)))
		}
		batch := make([]Candle, 0, 30)
		for i := 0; i < 30; i++ {
			batch = append(batch, mk(rng.Int63n(60), float64(100+i)))
		}

		once := NewSeries(25)
		once.Replace(base)
		once.Merge(batch)

		twice := NewSeries(25)
		twice.Replace(base)
		twice.Merge(batch)
		twice.Merge(batch)

		a, b := once.Candles(), twice.Candles()
		assertOrdered(t, a)
		assertOrdered(t, b)
		if len(a) != len(b) {
			t.Fatalf("round %d: len %d vs %d", round, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("round %d: index %d differs: %+v vs %+v", round, i, a[i], b[i])
			}
		}
	}
}

func TestReplaceNormalizes(t *testing.T) {
	s := NewSeries(2)
	s.Replace([]Candle{mk(3, 1), mk(1, 2), mk(3, 9), mk(2, 3)})
	got := s.Candles()
	if len(got) != 2 || got[0].X != 2 || got[1].X != 3 || got[1].O != 1 {
		t.Fatalf("got %+v", got)
	}

	// a later merge of an already indexed timestamp must not sneak in
	if n := s.Merge([]Candle{mk(3, 7)}); n != 0 {
		t.Fatalf("merge after replace added %d", n)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Candle
		ok   bool
	}{
		{"valid", Candle{X: 1, O: 10, H: 12, L: 9, C: 11, V: 5}, true},
		{"flat", Candle{X: 1, O: 10, H: 10, L: 10, C: 10, V: 0}, true},
		{"high below close", Candle{X: 1, O: 10, H: 10.5, L: 9, C: 11, V: 5}, false},
		{"low above open", Candle{X: 1, O: 10, H: 12, L: 10.5, C: 11, V: 5}, false},
		{"zero price", Candle{X: 1, O: 0, H: 12, L: 9, C: 11, V: 5}, false},
		{"negative volume", Candle{X: 1, O: 10, H: 12, L: 9, C: 11, V: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestRetracement(t *testing.T) {
	lv, err := Retracement([]Candle{
		{X: 1, O: 100, H: 110, L: 95, C: 105, V: 1},
		{X: 2, O: 105, H: 200, L: 100, C: 150, V: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if lv.High != 200 || lv.Low != 95 {
		t.Fatalf("high/low = %v/%v", lv.High, lv.Low)
	}
	want := []float64{200, 159.89, 135.11, 95}
	for i, l := range lv.Levels {
		if l.Price != want[i] {
			t.Errorf("level %v = %v, want %v", l.Ratio, l.Price, want[i])
		}
	}

	if _, err := Retracement(nil); err != ErrEmptySeries {
		t.Fatalf("empty: err = %v", err)
	}
}
