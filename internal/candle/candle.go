// File: internal/candle/candle.go
package candle

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DayMs is one daily bucket in milliseconds.
const DayMs int64 = 86_400_000

// DefaultCap bounds a Series when no cap is given.
const DefaultCap = 1000

var ErrEmptySeries = errors.New("candle: empty series")

// Candle is one OHLCV bucket. X is the bucket start in ms since epoch.
type Candle struct {
	X int64   `json:"x"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V int64   `json:"v"`
}

// Validate reports the first violated OHLCV invariant, or nil.
func (c Candle) Validate() error {
	switch {
	case c.O <= 0 || c.H <= 0 || c.L <= 0 || c.C <= 0:
		return fmt.Errorf("candle %d: non-positive price", c.X)
	case c.H < math.Max(c.O, c.C):
		return fmt.Errorf("candle %d: high %.2f below max(open, close)", c.X, c.H)
	case c.L > math.Min(c.O, c.C):
		return fmt.Errorf("candle %d: low %.2f above min(open, close)", c.X, c.L)
	case c.V < 0:
		return fmt.Errorf("candle %d: negative volume", c.X)
	}
	return nil
}

// Round2 rounds a price to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Normalize returns in sorted ascending by timestamp with duplicates dropped
// (the earliest occurrence in input order wins) and only the newest cap kept.
func Normalize(in []Candle, cap int) []Candle {
	if cap <= 0 {
		cap = DefaultCap
	}
	seen := make(map[int64]struct{}, len(in))
	out := make([]Candle, 0, len(in))
	for _, c := range in {
		if _, dup := seen[c.X]; dup {
			continue
		}
		seen[c.X] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].X < out[j].X })
	if len(out) > cap {
		out = out[len(out)-cap:]
	}
	return out
}

// Newest returns the candle with the largest timestamp.
func Newest(in []Candle) (Candle, bool) {
	if len(in) == 0 {
		return Candle{}, false
	}
	best := in[0]
	for _, c := range in[1:] {
		if c.X > best.X {
			best = c
		}
	}
	return best, true
}
