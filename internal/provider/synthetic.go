package provider

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"candlecast/internal/candle"
)

// SyntheticConfig shapes generated candles.
type SyntheticConfig struct {
	Days       int
	BasePrice  float64
	Amplitude  float64
	Noise      float64
	Volatility float64
}

// Generator produces sinusoidal-drift candles with bounded random noise.
// Safe for concurrent use.
type Generator struct {
	cfg SyntheticConfig
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(cfg SyntheticConfig, rng *rand.Rand, now func() time.Time) *Generator {
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{cfg: cfg, now: now, rng: rng}
}

// Generate returns cfg.Days candles one day apart starting at now.
func (g *Generator) Generate() []candle.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.now().UnixMilli()
	out := make([]candle.Candle, 0, g.cfg.Days)
	for i := 1; i <= g.cfg.Days; i++ {
		drift := g.cfg.BasePrice + math.Sin(float64(i)/5)*g.cfg.Amplitude
		open := drift + (g.rng.Float64()-0.5)*2*g.cfg.Noise
		change := (g.rng.Float64()-0.5)*2 + (g.rng.Float64()-0.5)*g.cfg.Volatility
		abs := math.Abs(change)

		high := math.Max(math.Max(open, open+change), open+abs*0.5)
		low := math.Min(math.Min(open, open+change), open-abs*0.7)
		// keep prices positive even with an aggressive config
		low = math.Max(low, 0.01)
		if open < low {
			open = low
		}
		close := math.Max(open+change, low)

		out = append(out, candle.Candle{
			X: start + int64(i-1)*candle.DayMs,
			O: candle.Round2(open),
			H: candle.Round2(math.Max(high, math.Max(open, close))),
			L: candle.Round2(low),
			C: candle.Round2(close),
			V: g.rng.Int63n(5_000_000),
		})
	}
	return out
}
