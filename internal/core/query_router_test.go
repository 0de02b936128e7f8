package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouterOptions() QueryRouterOptions {
	return QueryRouterOptions{K: 15, FetchK: 50, MaxRetries: 2, RetryBaseDelay: time.Millisecond}
}

func TestAnswerDefinitionScenario(t *testing.T) {
	gen := &stubGenerator{replies: []string{"Indemnification refers to..."}}
	retriever := &stubRetriever{passages: []string{"Indemnification means..."}}
	router := NewQueryRouter(stubClassifier{intent: IntentDefinitionQuery}, retriever, gen, testRouterOptions())

	query := "What does indemnification mean?"
	answer, err := router.Answer(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "Indemnification refers to...", answer)

	prompts := gen.calls()
	require.Len(t, prompts, 1)
	assert.Equal(t, RenderPrompt(IntentDefinitionQuery, query, "Indemnification means..."), prompts[0])
	assert.Equal(t, PromptDefinition, SelectPrompt(IntentDefinitionQuery))
}

func TestAnswerGarbageClassificationFallsBack(t *testing.T) {
	// One generator serves both the classifier and the answer.
	gen := &stubGenerator{replies: []string{"garbage", "Please rephrase."}}
	retriever := &stubRetriever{passages: []string{"Some clause"}}
	router := NewQueryRouter(NewIntentClassifier(gen), retriever, gen, testRouterOptions())

	answer, err := router.Answer(context.Background(), "What's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "Please rephrase.", answer)

	prompts := gen.calls()
	require.Len(t, prompts, 2)
	assert.Equal(t, RenderPrompt(IntentUnknown, "What's the weather?", ""), prompts[1])
	assert.NotContains(t, prompts[1], "Some clause")
}

func TestAnswerRunsClassifyAndRetrieveConcurrently(t *testing.T) {
	classifyStarted := make(chan struct{})
	retrieveStarted := make(chan struct{})

	classifier := classifierFunc(func(ctx context.Context, _ string) (Intent, error) {
		close(classifyStarted)
		select {
		case <-retrieveStarted:
			return IntentClauseRetrieval, nil
		case <-time.After(2 * time.Second):
			return IntentUnknown, errors.New("retrieval never started")
		}
	})
	retriever := retrieverFunc(func(ctx context.Context, _ string, _, _ int) ([]string, error) {
		close(retrieveStarted)
		select {
		case <-classifyStarted:
			return []string{"clause"}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("classification never started")
		}
	})
	gen := &stubGenerator{replies: []string{"ok"}}

	answer, err := NewQueryRouter(classifier, retriever, gen, testRouterOptions()).Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}

func TestAnswerAbortsOnIndexUnavailable(t *testing.T) {
	gen := &stubGenerator{replies: []string{"never"}}
	retriever := &stubRetriever{err: fmt.Errorf("%w: corrupt", ErrIndexUnavailable)}
	router := NewQueryRouter(stubClassifier{intent: IntentDefinitionQuery}, retriever, gen, testRouterOptions())

	answer, err := router.Answer(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexUnavailable))
	assert.Empty(t, answer)
	assert.Empty(t, gen.calls(), "no generation after a failed step")
	assert.Equal(t, 1, retriever.calls, "index errors are not retried")
}

func TestAnswerAbortsOnClassifierFailure(t *testing.T) {
	gen := &stubGenerator{replies: []string{"never"}}
	classifier := stubClassifier{err: fmt.Errorf("%w: auth", ErrProvider)}
	router := NewQueryRouter(classifier, &stubRetriever{}, gen, testRouterOptions())

	_, err := router.Answer(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Empty(t, gen.calls())
}

func TestAnswerRetriesGenerationProviderErrors(t *testing.T) {
	gen := &stubGenerator{
		errs:    []error{fmt.Errorf("%w: 503", ErrProvider), fmt.Errorf("%w: 503", ErrProvider)},
		replies: []string{"third time lucky"},
	}
	router := NewQueryRouter(stubClassifier{intent: IntentClauseRetrieval}, &stubRetriever{}, gen, testRouterOptions())

	answer, err := router.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", answer)
	assert.Len(t, gen.calls(), 3)
}

func TestAnswerGivesUpAfterMaxRetries(t *testing.T) {
	perr := fmt.Errorf("%w: 503", ErrProvider)
	gen := &stubGenerator{errs: []error{perr, perr, perr, perr}}
	router := NewQueryRouter(stubClassifier{intent: IntentClauseRetrieval}, &stubRetriever{}, gen, testRouterOptions())

	_, err := router.Answer(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Len(t, gen.calls(), 3)
}

func TestAnswerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retriever := retrieverFunc(func(ctx context.Context, _ string, _, _ int) ([]string, error) {
		return nil, ctx.Err()
	})
	gen := &stubGenerator{replies: []string{"never"}}
	_, err := NewQueryRouter(stubClassifier{intent: IntentClauseRetrieval}, retriever, gen, testRouterOptions()).Answer(ctx, "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, gen.calls())
}

func TestRetryDelayBackoff(t *testing.T) {
	base := 200 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, retryDelay(base, 0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(base, 1))
	assert.Equal(t, 5*time.Second, retryDelay(base, 10))
}

type classifierFunc func(ctx context.Context, query string) (Intent, error)

func (f classifierFunc) Classify(ctx context.Context, query string) (Intent, error) {
	return f(ctx, query)
}

type retrieverFunc func(ctx context.Context, query string, k, fetchK int) ([]string, error)

func (f retrieverFunc) Retrieve(ctx context.Context, query string, k, fetchK int) ([]string, error) {
	return f(ctx, query, k, fetchK)
}
