// File: internal/server/server.go
package server

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"candlecast/internal/candle"
	"candlecast/internal/hub"
	"candlecast/internal/provider"
)

type Deps struct {
	Source    provider.Source
	Registry  *hub.Registry
	WS        http.Handler
	StaticDir string
	Logger    zerolog.Logger
}

// NewMux wires every HTTP route.
func NewMux(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/candles", candlesHandler(d.Source, d.Logger))
	mux.HandleFunc("/levels", levelsHandler(d.Source, d.Logger))
	mux.HandleFunc("/healthz", healthzHandler(d.Registry))
	mux.Handle("/metrics", promhttp.Handler())
	if d.WS != nil {
		mux.Handle("/ws", d.WS)
	}
	mux.Handle("/", Static(d.StaticDir))
	return recoverer(d.Logger, mux)
}

// recoverer turns a handler panic into an empty 500.
func recoverer(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error().Interface("panic", v).Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).Msg("handler panic")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func candlesHandler(src provider.Source, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data := src.FetchCandles(r.Context())
		if data == nil {
			data = []candle.Candle{}
		}
		writeJSON(w, log, struct {
			Data []candle.Candle `json:"data"`
		}{data})
	}
}

func levelsHandler(src provider.Source, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		lv, err := candle.Retracement(src.FetchCandles(r.Context()))
		if err != nil {
			log.Error().Err(err).Msg("compute levels")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, lv)
	}
}

func healthzHandler(reg *hub.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := 0
		if reg != nil {
			n = reg.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"subscribers": n,
		})
	}
}
