package config

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/project-kessel/userinfo/internal/probe"
	"github.com/project-kessel/userinfo/internal/service"
)

func TestNewLogger_EventLevels(t *testing.T) {
	disabled := false
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, &ObservabilityConfig{
		LogLevel:        "info",
		ClaimResolution: &EventConfig{LogLevel: "debug"},
		AuthzCheck:      &EventConfig{Enabled: &disabled},
	})

	logger.Debug("plain debug")
	logger.With("event", probe.EventClaimResolution).Debug("resolution debug")
	logger.With("event", probe.EventUserInfoRequest).Debug("userinfo debug")
	logger.With("event", probe.EventUserInfoRequest).Info("userinfo info")
	logger.With("event", probe.EventAuthzCheck).Error("authz error")
	logger.Debug("record attr debug", "event", probe.EventClaimResolution)

	out := buf.String()
	for _, want := range []string{"resolution debug", "userinfo info", "record attr debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q to be logged, got:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"plain debug", "userinfo debug", "authz error"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("expected %q to be filtered, got:\n%s", unwanted, out)
		}
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, &ObservabilityConfig{LogFormat: "text"}).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestNewObserver(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ObservabilityConfig
		wantErr bool
	}{
		{"nil config", nil, false},
		{"noop", &ObservabilityConfig{Type: "noop"}, false},
		{"logging", &ObservabilityConfig{Type: "logging", LogUserClaims: true}, false},
		{"composite", &ObservabilityConfig{Type: "composite", Observers: []ObservabilityConfig{{Type: "logging"}, {Type: "noop"}}}, false},
		{"empty composite", &ObservabilityConfig{Type: "composite"}, true},
		{"unknown", &ObservabilityConfig{Type: "prometheus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer, err := NewObserver(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if observer == nil {
				t.Fatal("expected observer")
			}
			var _ service.ApplicationObserver = observer
		})
	}
}

func TestLoggingObserver_UsesEventFiltering(t *testing.T) {
	disabled := false
	var buf bytes.Buffer
	cfg := &ObservabilityConfig{Type: "logging", ClaimResolution: &EventConfig{Enabled: &disabled}}
	observer, err := NewObserverWithLogger(cfg, NewLoggerTo(&buf, cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, p := observer.ClaimResolutionStarted(context.Background(), nil)
	p.ResolutionFailed(context.DeadlineExceeded)
	p.End()

	if buf.Len() != 0 {
		t.Errorf("expected disabled event to log nothing, got %s", buf.String())
	}
}
