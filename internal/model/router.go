package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/types"
)

// ErrUnavailable reports that a completion could not be served, either
// because no endpoint is bound or every attempt failed.
var ErrUnavailable = errors.New("model unavailable")

// Router maps capability tiers to clients and applies the call policy:
// a per-attempt timeout, one retry, and a typed error when exhausted so
// callers can degrade instead of crashing.
type Router struct {
	mu      sync.RWMutex
	clients map[types.ModelTier]Client

	timeout time.Duration
	retries int
}

var _ plugin.Model = (*Router)(nil)

// NewRouter builds a router with the given per-attempt timeout and
// retry count. Nonpositive values fall back to 60s and 1 retry.
func NewRouter(timeout time.Duration, retries int) *Router {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retries < 0 {
		retries = 1
	}
	return &Router{
		clients: make(map[types.ModelTier]Client),
		timeout: timeout,
		retries: retries,
	}
}

// Bind attaches a client to a tier. Binding the same client to both
// tiers is normal for single-endpoint deployments.
func (r *Router) Bind(tier types.ModelTier, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[tier] = c
	logging.Model("Bound %s to tier %s", c.Name(), tier)
}

// Client returns the client serving a tier, falling back to whatever is
// bound when the exact tier is not.
func (r *Router) Client(tier types.ModelTier) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[tier]; ok {
		return c, nil
	}
	// Prefer the cheap tier when falling back.
	for _, fallback := range []types.ModelTier{types.TierSmallFast, types.TierLargeDeliberate} {
		if c, ok := r.clients[fallback]; ok {
			logging.ModelDebug("Tier %s unbound, falling back to %s", tier, fallback)
			return c, nil
		}
	}
	return nil, fmt.Errorf("no endpoint bound for tier %s: %w", tier, ErrUnavailable)
}

// Complete routes a bare prompt to the tier's endpoint.
func (r *Router) Complete(ctx context.Context, tier types.ModelTier, prompt string) (string, error) {
	return r.run(ctx, tier, func(ctx context.Context, c Client) (string, error) {
		return c.Complete(ctx, prompt)
	})
}

// CompleteWithSystem routes a system+user prompt to the tier's endpoint.
func (r *Router) CompleteWithSystem(ctx context.Context, tier types.ModelTier, system, prompt string) (string, error) {
	return r.run(ctx, tier, func(ctx context.Context, c Client) (string, error) {
		return c.CompleteWithSystem(ctx, system, prompt)
	})
}

func (r *Router) run(ctx context.Context, tier types.ModelTier, call func(context.Context, Client) (string, error)) (string, error) {
	client, err := r.Client(tier)
	if err != nil {
		return "", err
	}

	timer := logging.StartTimer(logging.CategoryModel, "complete:"+string(tier))
	defer timer.StopWithThreshold(r.timeout / 2)

	attempts := r.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			logging.Model("Retrying %s (attempt %d/%d) after: %v", client.Name(), i+1, attempts, lastErr)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		out, err := call(callCtx, client)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err

		// A dead parent context means the caller is gone; retrying
		// would only burn the endpoint.
		if ctx.Err() != nil {
			break
		}
	}

	logging.ModelError("%s failed after %d attempts: %v", client.Name(), attempts, lastErr)
	return "", fmt.Errorf("%s failed after %d attempts: %v: %w", client.Name(), attempts, lastErr, ErrUnavailable)
}
