// File: main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"candlecast/internal/config"
	"candlecast/internal/hub"
	"candlecast/internal/logger"
	"candlecast/internal/provider"
	"candlecast/internal/server"
)

func main() {
	portOverride := flag.Int("port", 0, "override server_port")
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *portOverride != 0 {
		cfg.ServerPort = *portOverride
	}
	logger.Init("candlecast", cfg.Logging.Level, cfg.Logging.Pretty)

	if cfg.APIKey == "" {
		log.Info().Msg("ALPHAVANTAGE_API_KEY not set, serving synthetic candles")
	}

	gen := provider.NewGenerator(provider.SyntheticConfig{
		Days:       cfg.Provider.Days,
		BasePrice:  cfg.Synthetic.BasePrice,
		Amplitude:  cfg.Synthetic.Amplitude,
		Noise:      cfg.Synthetic.Noise,
		Volatility: cfg.Synthetic.Volatility,
	}, nil, nil)
	prov := provider.New(provider.Options{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Symbol:            cfg.Symbol,
		Days:              cfg.Provider.Days,
		Timeout:           cfg.ProviderTimeout(),
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		Synthetic:         gen,
		Logger:            logger.For("provider"),
	})

	reg := hub.NewRegistry(logger.For("hub"))
	bc := hub.NewBroadcaster(reg, prov, cfg.BroadcastInterval(), logger.For("broadcaster"))
	ws := hub.NewHandler(reg, prov, cfg.Broadcast.SendBuffer, bc.Stopping(), logger.For("ws"))

	handler := server.NewMux(server.Deps{
		Source:    prov,
		Registry:  reg,
		WS:        ws,
		StaticDir: cfg.StaticDir,
		Logger:    logger.For("http"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start broadcaster")
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("symbol", cfg.Symbol).Str("static", cfg.StaticDir).
			Msgf("UI: http://localhost:%d", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	bc.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
