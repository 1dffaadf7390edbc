package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/project-kessel/userinfo/internal/probe"
	"github.com/project-kessel/userinfo/internal/service"
)

// disabledLevel is above every level a logger emits
const disabledLevel = slog.Level(1000)

// NewObserver creates an application observer from configuration.
// This is a convenience wrapper that creates its own logger from cfg.
func NewObserver(cfg *ObservabilityConfig) (service.ApplicationObserver, error) {
	return NewObserverWithLogger(cfg, NewLogger(cfg))
}

// NewObserverWithLogger creates an application observer using the provided logger.
// Use this when you want the observer to share a logger with other components.
func NewObserverWithLogger(cfg *ObservabilityConfig, logger *slog.Logger) (service.ApplicationObserver, error) {
	if cfg == nil {
		// Default to no-op observer if not configured
		return &service.NoOpApplicationObserver{}, nil
	}

	switch cfg.Type {
	case "logging":
		return probe.NewLoggingObserverWithConfig(probe.LoggingObserverConfig{
			Logger:        logger,
			LogUserClaims: cfg.LogUserClaims,
		}), nil
	case "noop", "":
		return &service.NoOpApplicationObserver{}, nil
	case "composite":
		return newCompositeObserver(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown observability type: %s (supported: logging, noop, composite)", cfg.Type)
	}
}

// NewLogger creates a structured logger writing to stdout from the
// observability configuration. Returns slog.Default() if cfg is nil.
func NewLogger(cfg *ObservabilityConfig) *slog.Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger writing to w
func NewLoggerTo(w io.Writer, cfg *ObservabilityConfig) *slog.Logger {
	if cfg == nil {
		return slog.Default()
	}

	defaultLevel := parseLogLevel(cfg.LogLevel)
	handler := createEventFilteringHandler(w, cfg, defaultLevel)
	return slog.New(handler)
}

// newCompositeObserver creates a composite observer that delegates to multiple observers
func newCompositeObserver(cfg *ObservabilityConfig, logger *slog.Logger) (service.ApplicationObserver, error) {
	if len(cfg.Observers) == 0 {
		return nil, fmt.Errorf("composite observer requires at least one sub-observer")
	}

	var observers []service.ApplicationObserver
	for i, subCfg := range cfg.Observers {
		observer, err := NewObserverWithLogger(&subCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create observer %d: %w", i, err)
		}
		observers = append(observers, observer)
	}

	return service.NewCompositeObserver(observers...), nil
}

// createEventFilteringHandler creates a handler that filters log events based on the event attribute
func createEventFilteringHandler(w io.Writer, cfg *ObservabilityConfig, defaultLevel slog.Level) slog.Handler {
	// Event overrides may lower the level below the default, so the base
	// handler lets everything through and filtering happens in Handle
	baseHandler := createHandler(w, cfg.LogFormat, slog.LevelDebug)

	eventLevels := make(map[string]slog.Level)
	for event, eventCfg := range map[string]*EventConfig{
		probe.EventClaimResolution: cfg.ClaimResolution,
		probe.EventUserInfoRequest: cfg.UserInfoRequest,
		probe.EventAuthzCheck:      cfg.AuthzCheck,
	} {
		if eventCfg == nil {
			continue
		}
		if eventCfg.Enabled != nil && !*eventCfg.Enabled {
			eventLevels[event] = disabledLevel
		} else if eventCfg.LogLevel != "" {
			eventLevels[event] = parseLogLevel(eventCfg.LogLevel)
		}
	}

	return &eventFilteringHandler{
		next:         baseHandler,
		eventLevels:  eventLevels,
		defaultLevel: defaultLevel,
	}
}

// eventFilteringHandler wraps a handler and filters based on the event
// attribute. Observers bind the event with logger.With, so the event is
// remembered from WithAttrs as well as read from each record.
type eventFilteringHandler struct {
	next         slog.Handler
	eventLevels  map[string]slog.Level
	defaultLevel slog.Level
	event        string
}

func (h *eventFilteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel()
}

func (h *eventFilteringHandler) minLevel() slog.Level {
	if h.event != "" {
		if level, ok := h.eventLevels[h.event]; ok {
			return level
		}
		return h.defaultLevel
	}
	// The event may still arrive as a record attribute
	level := h.defaultLevel
	for _, l := range h.eventLevels {
		if l < level {
			level = l
		}
	}
	return level
}

func (h *eventFilteringHandler) Handle(ctx context.Context, record slog.Record) error {
	eventName := h.event
	if eventName == "" {
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == "event" {
				eventName = attr.Value.String()
				return false
			}
			return true
		})
	}

	threshold := h.defaultLevel
	if eventLevel, ok := h.eventLevels[eventName]; ok && eventName != "" {
		threshold = eventLevel
	}
	if record.Level < threshold {
		return nil
	}

	return h.next.Handle(ctx, record)
}

func (h *eventFilteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	event := h.event
	for _, attr := range attrs {
		if attr.Key == "event" {
			event = attr.Value.String()
		}
	}
	return &eventFilteringHandler{
		next:         h.next.WithAttrs(attrs),
		eventLevels:  h.eventLevels,
		defaultLevel: h.defaultLevel,
		event:        event,
	}
}

func (h *eventFilteringHandler) WithGroup(name string) slog.Handler {
	return &eventFilteringHandler{
		next:         h.next.WithGroup(name),
		eventLevels:  h.eventLevels,
		defaultLevel: h.defaultLevel,
		event:        h.event,
	}
}

// createHandler creates a slog handler based on format and level
func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// parseLogLevel parses a log level string
func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		// Default to info
		return slog.LevelInfo
	}
}
