package etfwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/etfwatch/kit"
	"github.com/hazyhaar/etfwatch/mapping"
	"github.com/hazyhaar/etfwatch/shield"
)

// Handler returns the HTTP API. Reads are public; POST /api/run/{process}
// requires the bearer token whose bcrypt hash is configured.
func (s *Service) Handler() http.Handler {
	ep := s.endpoints()
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.cfg.HTTP.Rate) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		running := s.Running()
		names := make([]string, len(running))
		for i, p := range running {
			names[i] = string(p)
		}
		writeJSON(w, 200, map[string]any{"status": "ok", "running": names})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.providers, nil, 200)
		})
		r.Get("/funds", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.funds, nil, 200)
		})
		r.Get("/funds/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, 400, errors.New("invalid fund id"))
				return
			}
			serve(w, r, ep.fund, FundRequest{FundID: id, Days: queryInt(r, "days", 0)}, 200)
		})
		r.Get("/best-ideas", func(w http.ResponseWriter, r *http.Request) {
			req := BestIdeasRequest{EtfID: int64(queryInt(r, "etf", 0)), Days: queryInt(r, "days", 0)}
			serve(w, r, ep.bestIdeas, req, 200)
		})
		r.Get("/batches", func(w http.ResponseWriter, r *http.Request) {
			req := BatchesRequest{Process: r.URL.Query().Get("process"), Limit: queryInt(r, "limit", 50)}
			serve(w, r, ep.batches, req, 200)
		})
		r.Get("/batches/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.batchLogs, BatchLogsRequest{BatchID: chi.URLParam(r, "id")}, 200)
		})
		r.Post("/validate", func(w http.ResponseWriter, r *http.Request) {
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				writeError(w, bodyStatus(err), err)
				return
			}
			serve(w, r, ep.validate, ValidateRequest{Mapping: raw}, 200)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/run/{process}", func(w http.ResponseWriter, r *http.Request) {
				serve(w, r, ep.run, RunRequest{Process: chi.URLParam(r, "process")}, 202)
			})
		})
	})
	return r
}

// requireAdmin checks the bearer token against the configured hash.
func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.cfg.HTTP.AdminTokenHash
		if hash == "" {
			writeError(w, 403, errors.New("run API disabled"))
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, 401, errors.New("missing bearer token"))
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			shield.GetLogger(r.Context()).Warn("etfwatch: admin token rejected", "ip", shield.ExtractIP(r))
			writeError(w, 401, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serve calls e and writes its response as JSON with status code.
func serve(w http.ResponseWriter, r *http.Request, e kit.Endpoint, req any, code int) {
	resp, err := e(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, code, resp)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrBadRequest), errors.Is(err, mapping.ErrInvalid):
		return 400
	case errors.Is(err, ErrProcessRunning):
		return 409
	}
	return 500
}

func bodyStatus(err error) int {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return 413
	}
	return 400
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
