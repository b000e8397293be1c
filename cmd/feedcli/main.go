// Command feedcli consumes the candle feed: it fetches the snapshot, follows
// realtime updates and optionally records candles to CSV. With -tui it draws
// the series in the terminal instead of logging.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"candlecast/internal/candle"
	"candlecast/internal/feed"
	"candlecast/internal/logger"
	"candlecast/internal/recorder"
)

func main() {
	base := flag.String("url", "http://localhost:3000", "server origin")
	csvPath := flag.String("csv", "", "append received candles to this CSV file")
	level := flag.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	useTUI := flag.Bool("tui", false, "draw a live chart instead of logging")
	logFile := flag.String("log-file", "", "log destination in -tui mode (default: discard)")
	flag.Parse()

	if *useTUI {
		var w io.Writer = io.Discard
		if *logFile != "" {
			f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				logger.Init("feedcli", *level, true)
				log.Fatal().Err(err).Str("path", *logFile).Msg("open log file")
			}
			defer f.Close()
			w = f
		}
		logger.InitWriter("feedcli", *level, w)
	} else {
		logger.Init("feedcli", *level, true)
	}

	var rec *recorder.Writer
	if *csvPath != "" {
		var err error
		if rec, err = recorder.Open(*csvPath); err != nil {
			log.Fatal().Err(err).Str("path", *csvPath).Msg("open csv")
		}
		defer rec.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := feed.New(feed.Options{BaseURL: *base, Logger: logger.For("feed")})
	defer c.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	seed, err := c.FetchInitial(fetchCtx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot unavailable, waiting for realtime data")
	} else {
		log.Info().Int("candles", len(seed)).Msg("snapshot loaded")
	}
	cancel()

	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}

	var lastX int64
	record := func(cs []candle.Candle) {
		if rec == nil {
			return
		}
		var fresh []candle.Candle
		for _, k := range cs {
			if k.X > lastX {
				fresh = append(fresh, k)
			}
		}
		if len(fresh) == 0 {
			return
		}
		if err := rec.Write(fresh...); err != nil {
			log.Error().Err(err).Msg("write csv")
			return
		}
		lastX = fresh[len(fresh)-1].X
	}
	record(seed)

	if *useTUI {
		p := tea.NewProgram(newModel(ctx, c, c.Events(), *base, seed, record),
			tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("tui")
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.Events():
			switch ev.Kind {
			case feed.EventState:
				log.Info().Str("state", ev.State.String()).Msg("connection")
			case feed.EventSnapshot, feed.EventUpdate:
				if last, ok := candle.Newest(ev.Candles); ok {
					log.Info().Int("cached", len(ev.Candles)).Int64("x", last.X).
						Float64("close", last.C).Msg("candles")
				}
				record(ev.Candles)
			case feed.EventServerError:
				log.Warn().Err(ev.Err).Msg("server error")
			case feed.EventTerminal:
				// keep showing cached data; user restarts to retry
				log.Error().Err(ev.Err).Int("cached", len(c.Snapshot())).Msg("realtime feed lost")
			}
		}
	}
}
