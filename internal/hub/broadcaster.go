package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"candlecast/internal/candle"
	"candlecast/internal/metrics"
	"candlecast/internal/provider"
)

// State is the broadcaster lifecycle: Idle -> Running -> Stopped.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var ErrNotIdle = errors.New("hub: broadcaster already started")

// Broadcaster pushes the newest candle to every subscriber on a fixed
// interval. Ticks with no subscribers skip the provider entirely.
type Broadcaster struct {
	reg      *Registry
	src      provider.Source
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	state    State
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewBroadcaster(reg *Registry, src provider.Source, interval time.Duration, log zerolog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Broadcaster{
		reg:      reg,
		src:      src,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (b *Broadcaster) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stopping is closed once Stop has been called.
func (b *Broadcaster) Stopping() <-chan struct{} { return b.stop }

// Start launches the tick loop. It runs until Stop or ctx is done.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return ErrNotIdle
	}
	b.state = StateRunning
	b.started = true
	b.mu.Unlock()

	go b.run(ctx)
	b.log.Info().Dur("interval", b.interval).Msg("broadcaster running")
	return nil
}

// Stop ends the loop and waits for an in-flight tick. Safe to call twice.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	prev, started := b.state, b.started
	b.state = StateStopped
	b.mu.Unlock()

	if started {
		<-b.done
	}
	if prev != StateStopped {
		b.log.Info().Msg("broadcaster stopped")
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// one cancellable context for in-flight provider calls
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.state = StateStopped
			b.mu.Unlock()
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick runs one broadcast round and returns the number of deliveries.
func (b *Broadcaster) Tick(ctx context.Context) int {
	if b.reg.Len() == 0 {
		return 0
	}
	latest, ok := candle.Newest(b.src.FetchCandles(ctx))
	if !ok {
		return 0
	}
	n := b.reg.Broadcast(Message{Type: TypeUpdate, Data: []candle.Candle{latest}})
	metrics.BroadcastsTotal.Inc()
	b.log.Debug().Int64("x", latest.X).Int("delivered", n).Msg("broadcast update")
	return n
}
