package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/keys"
)

// JWKSPath is where the keys verifying signed UserInfo responses are published
const JWKSPath = "/oauth2/jwks"

// JWKSHandler serves the JSON Web Key Set of the UserInfo signer.
// The encoded set is cached and periodically refreshed so that rotations
// are picked up without rebuilding it per request.
type JWKSHandler struct {
	signer          keys.Signer
	clock           clock.Clock
	refreshInterval time.Duration
	logger          *slog.Logger

	mu         sync.RWMutex
	cachedBody []byte

	stop chan struct{}
	once sync.Once
}

// JWKSHandlerConfig configures the JWKS handler
type JWKSHandlerConfig struct {
	Signer keys.Signer

	// RefreshInterval is how often to refresh the cached JWKS
	// If zero, defaults to 1 minute
	RefreshInterval time.Duration

	// Clock is used for time operations (defaults to system clock)
	Clock clock.Clock

	// Logger is the structured logger to use. If nil, uses slog.Default()
	Logger *slog.Logger
}

// NewJWKSHandler creates a JWKS handler with caching
func NewJWKSHandler(cfg JWKSHandlerConfig) *JWKSHandler {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JWKSHandler{
		signer:          cfg.Signer,
		clock:           cfg.Clock,
		refreshInterval: cfg.RefreshInterval,
		logger:          logger,
		stop:            make(chan struct{}),
	}
}

// Start populates the cache and refreshes it in the background until ctx
// is done or Stop is called
func (h *JWKSHandler) Start(ctx context.Context) {
	if err := h.Refresh(ctx); err != nil {
		h.logger.Warn("initial JWKS population failed, will retry", "error", err)
	}

	ticker := h.clock.NewTicker(h.refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C():
				if err := h.Refresh(ctx); err != nil {
					h.logger.Warn("background JWKS refresh failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the background refresh
func (h *JWKSHandler) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Refresh rebuilds the cached key set. A failed refresh keeps serving the
// previous set.
func (h *JWKSHandler) Refresh(ctx context.Context) error {
	body, err := h.build(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.cachedBody = body
	h.mu.Unlock()
	return nil
}

func (h *JWKSHandler) build(ctx context.Context) ([]byte, error) {
	set, err := keys.JWKS(ctx, h.signer)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JWKS: %w", err)
	}
	return body, nil
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	body := h.cachedBody
	h.mu.RUnlock()

	if body == nil {
		var err error
		if body, err = h.build(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to build JWKS", "error", err)
			http.Error(w, "key set unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.refreshInterval.Seconds())))
	_, _ = w.Write(body)
}
