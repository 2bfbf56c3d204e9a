package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ja7ad/cpubalancer/pkg/balancer"
)

// debugServer exposes the balancer's live per-CPU stats over HTTP, for
// operators who want a quick look without tailing logs. Entirely optional
// (spec.md names no such surface; SPEC_FULL.md §3 adds it as an ambient
// observability convenience, never consulted by dispatch decisions).
type debugServer struct {
	srv *http.Server
}

type cpuStatView struct {
	ID            int     `json:"id"`
	CurrentUsage  float64 `json:"current_usage"`
	PredictedLoad float64 `json:"predicted_load"`
	ActiveTasks   int64   `json:"active_tasks"`
}

func newDebugServer(addr string, lb *balancer.LoadBalancer) *debugServer {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := lb.Stats()
		views := make([]cpuStatView, len(stats))
		for i, s := range stats {
			views[i] = cpuStatView{
				ID:            s.ID(),
				CurrentUsage:  s.CurrentUsage(),
				PredictedLoad: s.PredictedLoad(),
				ActiveTasks:   s.ActiveTasks(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}).Methods("GET")

	return &debugServer{srv: &http.Server{Addr: addr, Handler: router}}
}

func (d *debugServer) Start() {
	go func() {
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("debug server stopped", "err", err)
		}
	}()
}

func (d *debugServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.srv.Shutdown(ctx)
}
