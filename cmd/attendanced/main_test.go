// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sirius-college/attendance-monitoring/internal/api"
	"github.com/sirius-college/attendance-monitoring/internal/cache"
	"github.com/sirius-college/attendance-monitoring/internal/config"
	"github.com/sirius-college/attendance-monitoring/internal/jobs"
	attlog "github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

func TestMetricsServerShutdownNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runMetricsServer(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("metrics server returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("metrics server did not stop after cancel")
	}
}

func TestAPIServerShutdownNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st, err := store.Open(filepath.Join(t.TempDir(), "attendance.db"), store.DefaultConfig(), attlog.WithComponent("main-test"))
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	defer st.Close()

	refresher := jobs.NewRefresher(jobs.Options{WindowWeeks: 18, DataDir: t.TempDir()},
		seqta.New("http://127.0.0.1:1", seqta.Options{}), st,
		cache.NewMemoryCache(0), nil, attlog.WithComponent("main-test"))

	server := api.New(api.Options{ListenAddr: "127.0.0.1:0"}, api.Deps{
		Store:     st,
		Refresher: refresher,
	}, attlog.WithComponent("main-test"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("api server returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("api server did not stop after cancel")
	}
}

func TestBuildCacheFallsBackToMemory(t *testing.T) {
	cfg := config.AppConfig{RedisAddr: "127.0.0.1:1"}

	c := buildCache(cfg)
	if c == nil {
		t.Fatal("expected a cache instance")
	}
	// The fallback must behave as a working cache.
	c.Set("k", seqta.Feed{Timestamp: "2026-03-02 08:15:00"}, time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Error("fallback cache did not store the entry")
	}
}
