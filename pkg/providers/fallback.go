package providers

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// FallbackChain tries a sequence of named backends in order, retrying a
// transient failure on the same backend up to maxRetries times with
// exponential backoff plus jitter before moving to the next backend.
// Grounded on pkg/providers/fallback.go's provider-chain-with-backoff shape.
//
// Backoff-after-failure (the exponential-plus-jitter delay spec §7
// describes) and steady-state rate limiting are two different concerns:
// the former is a one-off wait computed from the attempt number, the
// latter paces requests to a backend that's healthy but rate-limited
// upstream. NamedBackend.Limiter covers the latter via x/time/rate; the
// backoff math below stays hand-rolled since rate.Limiter has no natural
// API for "wait this exact jittered duration once".
type FallbackChain struct {
	Backends   []NamedBackend
	MaxRetries int
	BaseDelay  time.Duration
}

type NamedBackend struct {
	Name    string
	Backend Backend
	Model   string
	// Limiter, if set, paces requests to this backend (e.g. a provider's
	// published requests-per-second ceiling) independent of failure retries.
	Limiter *rate.Limiter
}

func NewFallbackChain(backends []NamedBackend) *FallbackChain {
	return &FallbackChain{Backends: backends, MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// Complete tries each backend in order. Within a backend, a Retryable
// failure is retried MaxRetries times with 0.5s*2^n+jitter backoff before
// moving to the next backend; a non-retryable failure moves to the next
// backend immediately.
func (f *FallbackChain) Complete(ctx context.Context, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (Chunk, string, error) {
	var lastErr error

	for _, nb := range f.Backends {
		chunk, err := f.tryWithRetries(ctx, nb, messages, tools, opts)
		if err == nil {
			return chunk, nb.Name, nil
		}
		lastErr = err
	}

	reason := ClassifyFailure(lastErr)
	return Chunk{}, "", fmt.Errorf("%s", UserFriendlyError(reason, lastErr))
}

func (f *FallbackChain) tryWithRetries(ctx context.Context, nb NamedBackend, messages []core.Message, tools []ToolDefinition, opts ChatOptions) (Chunk, error) {
	var lastErr error

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			delay += time.Duration(rand.Int63n(int64(f.BaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Chunk{}, ctx.Err()
			}
		}

		if nb.Limiter != nil {
			if err := nb.Limiter.Wait(ctx); err != nil {
				return Chunk{}, err
			}
		}

		if err := nb.Backend.Open(ctx); err != nil {
			lastErr = err
			continue
		}
		chunk, err := nb.Backend.Complete(ctx, nb.Model, messages, tools, opts)
		nb.Backend.Close()
		if err == nil {
			return chunk, nil
		}
		lastErr = err

		if !ClassifyFailure(err).Retryable() {
			break
		}
	}

	return Chunk{}, lastErr
}
