package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

type Classifier interface {
	Classify(ctx context.Context, query string) (Intent, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k, fetchK int) ([]string, error)
}

type QueryRouterOptions struct {
	K      int
	FetchK int
	// MaxRetries is how many extra attempts a provider-failed step gets.
	MaxRetries int
	// RetryBaseDelay is the first backoff; it doubles per attempt up to 5s.
	RetryBaseDelay time.Duration
	Debug          bool
}

// QueryRouter runs the answer pipeline: classify and retrieve, pick a prompt, generate.
type QueryRouter struct {
	classifier Classifier
	retriever  Retriever
	generator  TextGenerator
	opts       QueryRouterOptions
}

func NewQueryRouter(classifier Classifier, retriever Retriever, generator TextGenerator, opts QueryRouterOptions) *QueryRouter {
	if opts.K <= 0 {
		opts.K = DefaultRetrievalK
	}
	if opts.FetchK < opts.K {
		opts.FetchK = max(opts.K, DefaultRetrievalFetchK)
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	return &QueryRouter{
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		opts:       opts,
	}
}

// Answer returns the model's raw completion for query, which already carries any chat
// history. Any failing step aborts the whole answer.
func (q *QueryRouter) Answer(ctx context.Context, query string) (string, error) {
	var (
		intent   Intent
		passages []string
	)

	// Classification and retrieval are independent of each other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		intent, err = withProviderRetry(gctx, q.opts, func() (Intent, error) {
			return q.classifier.Classify(gctx, query)
		})
		return err
	})
	g.Go(func() error {
		var err error
		passages, err = withProviderRetry(gctx, q.opts, func() ([]string, error) {
			return q.retriever.Retrieve(gctx, query, q.opts.K, q.opts.FetchK)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if q.opts.Debug {
		log.Printf("Query routed: intent=%s prompt=%s clauses=%d", intent, SelectPrompt(intent), len(passages))
	}
	prompt := RenderPrompt(intent, query, JoinContext(passages))

	answer, err := withProviderRetry(ctx, q.opts, func() (string, error) {
		return q.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// withProviderRetry retries fn only while it fails with ErrProvider and ctx is live.
func withProviderRetry[T any](ctx context.Context, opts QueryRouterOptions, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil || !errors.Is(err, ErrProvider) || attempt >= opts.MaxRetries {
			return result, err
		}

		delay := retryDelay(opts.RetryBaseDelay, attempt)
		log.Printf("Provider call failed (attempt %d/%d), retrying in %s: %v", attempt+1, opts.MaxRetries+1, delay, err)
		select {
		case <-ctx.Done():
			return result, err
		case <-time.After(delay):
		}
	}
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}
