// Package server exposes a small admin HTTP API. Every handler calls
// the checker's public operations; there is no side door into the
// reminder state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"duebell/internal/checker"
	"duebell/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8321"

type Config struct {
	Addr           string
	AllowedOrigins []string
}

type Service struct {
	srv *http.Server
	log logx.Logger
}

func New(cfg Config, chk *checker.Service, log logx.Logger) *Service {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Service{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newRouter(cfg, chk),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func (s *Service) Start() {
	go func() {
		s.log.Info("admin API listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin API server failed", logx.Err(err))
		}
	}()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func newRouter(cfg Config, chk *checker.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/reminders", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]any{"scheduler_running": chk.Running()}
			if last, ok := chk.LastSummary(); ok {
				resp["last_cycle"] = last
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Post("/check", func(w http.ResponseWriter, r *http.Request) {
			sum, err := chk.RunOnce(r.Context())
			if err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "summary": sum})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"summary": sum})
		})

		r.Post("/test", func(w http.ResponseWriter, r *http.Request) {
			sum, err := chk.RunTest(r.Context())
			if err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "summary": sum})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"summary": sum,
				"note":    "synthetic assignment due in 14 minutes; the 15-minute notice should have fired",
			})
		})
	})

	r.Get("/assignments", func(w http.ResponseWriter, r *http.Request) {
		assignments, err := chk.ListAssignments(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		type item struct {
			ID     string    `json:"id"`
			Name   string    `json:"name"`
			Course string    `json:"course"`
			DueAt  time.Time `json:"due_at"`
			URL    string    `json:"url,omitempty"`
		}
		out := make([]item, 0, len(assignments))
		for _, a := range assignments {
			out = append(out, item{ID: a.ID, Name: a.Name, Course: a.Course, DueAt: a.DueAt, URL: a.URL})
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": out})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
