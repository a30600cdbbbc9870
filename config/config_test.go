package config

import (
	"runtime"
	"testing"
	"time"
)

func TestMaxConcurrencyOverrideWins(t *testing.T) {
	cfg := &Config{Pipeline: PipelineConfig{ConcurrencyOverride: 5}}
	if got := cfg.MaxConcurrency(); got != 5 {
		t.Fatalf("MaxConcurrency = %d, want override 5", got)
	}
}

func TestMaxConcurrencyProfiles(t *testing.T) {
	cpus := runtime.NumCPU()

	prod := &Config{App: AppConfig{Environment: "production"}}
	dev := &Config{App: AppConfig{Environment: "development"}}

	wantProd := cpus / 2
	if wantProd < 1 {
		wantProd = 1
	}
	if wantProd > 8 {
		wantProd = 8
	}
	if got := prod.MaxConcurrency(); got != wantProd {
		t.Fatalf("production MaxConcurrency = %d, want %d", got, wantProd)
	}

	wantDev := cpus / 4
	if wantDev < 1 {
		wantDev = 1
	}
	if wantDev > 2 {
		wantDev = 2
	}
	if got := dev.MaxConcurrency(); got != wantDev {
		t.Fatalf("development MaxConcurrency = %d, want %d", got, wantDev)
	}
}

func TestWatchdogProfiles(t *testing.T) {
	prod := &Config{App: AppConfig{Environment: "production"}}
	dev := &Config{App: AppConfig{Environment: "development"}}

	if prod.WatchdogInterval() != 30*time.Second || dev.WatchdogInterval() != 10*time.Second {
		t.Fatalf("intervals = %v/%v, want 30s/10s", prod.WatchdogInterval(), dev.WatchdogInterval())
	}
	if prod.WatchdogCeilingBytes() != 6<<30 || dev.WatchdogCeilingBytes() != 2<<30 {
		t.Fatalf("ceilings = %d/%d, want 6GiB/2GiB", prod.WatchdogCeilingBytes(), dev.WatchdogCeilingBytes())
	}

	tuned := &Config{Pipeline: PipelineConfig{WatchdogIntervalSec: 5, WatchdogCeilingMB: 512}}
	if tuned.WatchdogInterval() != 5*time.Second {
		t.Fatalf("tuned interval = %v", tuned.WatchdogInterval())
	}
	if tuned.WatchdogCeilingBytes() != 512<<20 {
		t.Fatalf("tuned ceiling = %d", tuned.WatchdogCeilingBytes())
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxUploadBytes != 2048<<20 {
		t.Fatalf("max upload = %d", cfg.Pipeline.MaxUploadBytes)
	}
	if cfg.SingleRetention() != 10*time.Minute || cfg.MultiRetention() != 30*time.Minute {
		t.Fatalf("retention = %v/%v", cfg.SingleRetention(), cfg.MultiRetention())
	}
	if cfg.IsProduction() {
		t.Fatal("default profile must not be production")
	}
}
