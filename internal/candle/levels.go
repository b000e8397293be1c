package candle

import "math"

// FibRatios are the retracement ratios drawn by the chart UI.
var FibRatios = []float64{0, 0.382, 0.618, 1}

type Level struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

type Levels struct {
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Levels []Level `json:"levels"`
}

// Retracement computes Fibonacci levels between the highest high and the
// lowest low of in. Ratio 0 sits at the high, ratio 1 at the low.
func Retracement(in []Candle) (Levels, error) {
	if len(in) == 0 {
		return Levels{}, ErrEmptySeries
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, c := range in {
		hi = math.Max(hi, c.H)
		lo = math.Min(lo, c.L)
	}
	out := Levels{High: hi, Low: lo, Levels: make([]Level, 0, len(FibRatios))}
	span := hi - lo
	for _, r := range FibRatios {
		out.Levels = append(out.Levels, Level{Ratio: r, Price: Round2(hi - span*r)})
	}
	return out, nil
}
