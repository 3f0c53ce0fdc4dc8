package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonny/sentinel/internal/adapter/outbound/persistence/sqlite"
	"github.com/jonny/sentinel/internal/domain/model"
)

func TestConfigMonitorRepo_DetectAndAcknowledge(t *testing.T) {
	repo := sqlite.NewConfigMonitorRepo(newTestStore(t))
	ctx := context.Background()

	c := model.NewConfigMonitoring("/etc/app/tls.pem", model.TierCritical,
		model.FileState{Exists: true, Hash: "h1", Mode: 0o600})
	if _, err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, model.NewConfigMonitoring("/etc/app/tls.pem", model.TierLow, model.FileState{})); err == nil {
		t.Error("duplicate path must be rejected")
	}

	byPath, err := repo.GetByPath(ctx, "/etc/app/tls.pem")
	if err != nil || byPath == nil || byPath.FileMode != 0o600 || byPath.Tier != model.TierCritical {
		t.Fatalf("GetByPath: %+v %v", byPath, err)
	}

	first, err := repo.MarkChangeDetected(ctx, c.ID, time.Now())
	if err != nil || !first {
		t.Fatalf("first mark: %v %v", first, err)
	}
	again, _ := repo.MarkChangeDetected(ctx, c.ID, time.Now().Add(time.Minute))
	if again {
		t.Error("changeDetectedAt must only be set once")
	}

	acked := c.Acknowledge(model.FileState{Exists: true, Hash: "h2", Mode: 0o640})
	if err := repo.Acknowledge(ctx, acked); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got, _ := repo.GetByID(ctx, c.ID)
	if got.FileHash != "h2" || got.FileMode != 0o640 || got.ChangeDetectedAt != nil {
		t.Errorf("unexpected row after acknowledge %+v", got)
	}

	if err := repo.Acknowledge(ctx, model.ConfigMonitoring{ID: "missing"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if miss, _ := repo.GetByPath(ctx, "/nope"); miss != nil {
		t.Error("unexpected row")
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("Count: got %d", n)
	}
}
