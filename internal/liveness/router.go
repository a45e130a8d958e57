package liveness

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Body is returned for every GET that is not /metrics or /status.
const Body = "Bot is running!"

// Reporter supplies the JSON bodies of the status routes.
type Reporter interface {
	// Status is served on GET /status.
	Status() any
	// BroadcastRun is served on GET /status/broadcasts/{id}; false means 404.
	BroadcastRun(id string) (any, bool)
}

// NewRouter builds the liveness handler. Any GET path answers 200 with Body;
// other methods get 405. /metrics is mounted only when metrics is true and
// the /status routes only when rep is non-nil.
func NewRouter(metrics bool, rep Reporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	if rep != nil {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, rep.Status())
		})
		r.Get("/status/broadcasts/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, ok := rep.BroadcastRun(chi.URLParam(req, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
	}
	r.Get("/*", alive)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
	return r
}

func alive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
