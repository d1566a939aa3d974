package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (c stubChecker) CheckReady(context.Context) (string, string) {
	return c.status, c.message
}

func newTestHealth(t *testing.T, db ReadinessChecker, dir string) *HealthService {
	t.Helper()
	svc := NewHealthService(db, dir, "test", DefaultHealthThresholds(), testLogger())
	svc.diskFree = func(string) (uint64, error) { return 10 << 30, nil }
	svc.heapAlloc = func() uint64 { return 64 << 20 }
	return svc
}

func TestWorstStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, StatusHealthy},
		{[]string{StatusHealthy, StatusHealthy}, StatusHealthy},
		{[]string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{[]string{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{[]string{"weird"}, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := WorstStatus(tt.in...); got != tt.want {
			t.Errorf("WorstStatus(%v) = %q, хотели %q", tt.in, got, tt.want)
		}
	}
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	svc := newTestHealth(t, stubChecker{status: "ok"}, t.TempDir())

	report := svc.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("хотели healthy, получили %q (%+v)", report.Status, report.Services)
	}
	if report.Version != "test" {
		t.Errorf("Version = %q, хотели test", report.Version)
	}
}

func TestHealthCheck_DatabaseDownIsDegraded(t *testing.T) {
	svc := newTestHealth(t, stubChecker{status: "fail", message: "timeout"}, t.TempDir())

	report := svc.Check(context.Background())
	if report.Services.Database.Status != StatusDegraded {
		t.Errorf("database: хотели degraded, получили %q", report.Services.Database.Status)
	}
	if report.Status != StatusDegraded {
		t.Errorf("итог: хотели degraded, получили %q", report.Status)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	t.Run("каталог недоступен для записи", func(t *testing.T) {
		svc := newTestHealth(t, stubChecker{status: "ok"}, filepath.Join(t.TempDir(), "missing"))
		report := svc.Check(context.Background())
		if report.Services.Filesystem.Status != StatusUnhealthy || report.Status != StatusUnhealthy {
			t.Errorf("хотели unhealthy, получили filesystem=%q итог=%q", report.Services.Filesystem.Status, report.Status)
		}
	})

	t.Run("память выше критического порога", func(t *testing.T) {
		svc := newTestHealth(t, stubChecker{status: "ok"}, t.TempDir())
		svc.heapAlloc = func() uint64 { return 2 << 30 }
		report := svc.Check(context.Background())
		if report.Services.Memory.Status != StatusUnhealthy {
			t.Errorf("memory: хотели unhealthy, получили %q", report.Services.Memory.Status)
		}
	})

	t.Run("хранилище не инициализировано", func(t *testing.T) {
		svc := newTestHealth(t, nil, t.TempDir())
		report := svc.Check(context.Background())
		if report.Services.Database.Status != StatusUnhealthy {
			t.Errorf("database: хотели unhealthy, получили %q", report.Services.Database.Status)
		}
	})
}

func TestHealthCheck_LowDiskIsDegraded(t *testing.T) {
	svc := newTestHealth(t, stubChecker{status: "ok"}, t.TempDir())
	svc.diskFree = func(string) (uint64, error) { return 1 << 20, nil }

	report := svc.Check(context.Background())
	if report.Services.Filesystem.Status != StatusDegraded {
		t.Errorf("filesystem: хотели degraded, получили %q", report.Services.Filesystem.Status)
	}

	svc.diskFree = func(string) (uint64, error) { return 0, errors.New("statfs") }
	report = svc.Check(context.Background())
	if report.Services.Filesystem.Status != StatusDegraded {
		t.Errorf("filesystem при ошибке statfs: хотели degraded, получили %q", report.Services.Filesystem.Status)
	}
}
