package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	swcache "github.com/always-cache/swcache"
	"github.com/always-cache/swcache/cache"
)

// adminPrefix is the path below which the proxy serves its own API
// instead of forwarding to the origin.
const adminPrefix = "/.swcache"

type stateResponse struct {
	State             string   `json:"state"`
	Controlling       bool     `json:"controlling"`
	NavigationPreload bool     `json:"navigationPreload"`
	Caches            []string `json:"caches"`
}

type keysResponse struct {
	Cache string   `json:"cache"`
	Keys  []string `json:"keys"`
}

type deleteResponse struct {
	Cache   string `json:"cache"`
	Deleted int    `json:"deleted"`
}

func newRouter(reg *swcache.Registration, storage *cache.Storage, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))
	r.Use(middleware.Recoverer)

	r.Route(adminPrefix, func(r chi.Router) {
		r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, r, http.StatusOK, stateResponse{
				State:             reg.State().String(),
				Controlling:       reg.Controlling(),
				NavigationPreload: reg.PreloadEnabled(),
				Caches:            storage.Names(),
			})
		})
		r.Get("/caches/{name}/keys", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			c, err := storage.Open(r.Context(), name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reqs, err := c.Keys(r.Context())
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Str("cache", name).Msg("Could not list keys")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			keys := make([]string, 0, len(reqs))
			for _, req := range reqs {
				keys = append(keys, req.URL.RequestURI())
			}
			writeJSON(w, r, http.StatusOK, keysResponse{Cache: name, Keys: keys})
		})
		r.Delete("/caches/{name}", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			if _, err := storage.Open(r.Context(), name); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			deleted, err := storage.Delete(r.Context(), name)
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Str("cache", name).Msg("Could not delete cache")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			hlog.FromRequest(r).Info().Str("cache", name).Int("deleted", deleted).Msg("Deleted cache")
			writeJSON(w, r, http.StatusOK, deleteResponse{Cache: name, Deleted: deleted})
		})
	})

	r.Handle("/*", reg)
	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
