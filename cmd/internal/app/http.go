package app

import (
	"net/http"
)

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, a *App) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireStore && !a.durable {
			http.Error(w, "durable store not configured", http.StatusServiceUnavailable)
			return
		}

		if err := a.pingStore(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			log.Info("readyz.store.not_ready", "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", a.metrics.Handler())

	a.chat.Register(mux)
}
