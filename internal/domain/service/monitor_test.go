package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonny/sentinel/internal/domain/service"
)

func TestMonitor_StartStop(t *testing.T) {
	h := newHarness(t)
	mon := service.NewMonitor(h.detector, time.Minute, h.metrics, discardLogger())
	ctx := context.Background()

	if mon.IsMonitoring() {
		t.Fatal("monitor should start stopped")
	}
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mon.Start(ctx); err == nil {
		t.Error("second start should fail")
	}
	if !mon.IsMonitoring() {
		t.Error("expected monitoring after start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := mon.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if mon.IsMonitoring() {
		t.Error("expected stopped after stop")
	}
	if err := mon.Stop(stopCtx); err != nil {
		t.Errorf("stopping twice should be a no-op, got %v", err)
	}
}

func TestMonitor_ScheduledTick(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the scheduler")
	}
	h := newHarness(t)
	// cron rounds sub-second intervals up to one second.
	mon := service.NewMonitor(h.detector, time.Second, h.metrics, discardLogger())
	ctx := context.Background()
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mon.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for h.detector.LastCheck() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no scheduled tick within 3s")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestMonitor_TriggerRunsTick(t *testing.T) {
	h := newHarness(t)
	mon := service.NewMonitor(h.detector, 0, nil, nil)

	res, err := mon.Trigger(context.Background())
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.Skipped {
		t.Error("idle detector should not skip")
	}
	if h.detector.LastCheck() == nil {
		t.Error("expected lastCheck after trigger")
	}
}
