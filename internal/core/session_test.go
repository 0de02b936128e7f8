package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausex.com/clause-qa/internal/store"
)

func TestBuildContextWithoutHistory(t *testing.T) {
	m := NewSessionManager(&memoryTurns{}, 0)

	got, err := m.BuildContext(context.Background(), "new-session", "What is a warranty?")
	require.NoError(t, err)
	assert.Equal(t, "User: What is a warranty?\nAssistant:", got)
}

func TestBuildContextRendersTurnsInOrder(t *testing.T) {
	turns := &memoryTurns{}
	m := NewSessionManager(turns, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.RecordTurn(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}
	require.NoError(t, m.RecordTurn(ctx, "s2", "other", "other"))

	got, err := m.BuildContext(ctx, "s1", "q4")
	require.NoError(t, err)
	assert.Equal(t,
		"User: q1\nAssistant: a1\n"+
			"User: q2\nAssistant: a2\n"+
			"User: q3\nAssistant: a3\n"+
			"User: q4\nAssistant:",
		got)
	assert.Equal(t, 4, strings.Count(got, "User: "))
	assert.True(t, strings.HasSuffix(got, "Assistant:"))
}

func TestBuildContextHistoryCutoff(t *testing.T) {
	turns := &memoryTurns{}
	m := NewSessionManager(turns, 2)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.RecordTurn(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}

	got, err := m.BuildContext(ctx, "s1", "next")
	require.NoError(t, err)
	assert.Equal(t, "User: q4\nAssistant: a4\nUser: q5\nAssistant: a5\nUser: next\nAssistant:", got)
}

func TestBuildContextStoreFailure(t *testing.T) {
	m := NewSessionManager(&memoryTurns{listErr: errors.New("disk I/O error")}, 0)

	_, err := m.BuildContext(context.Background(), "s1", "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
}

func TestRecordTurnStoreFailure(t *testing.T) {
	m := NewSessionManager(&memoryTurns{insertErr: errors.New("database is locked")}, 0)

	err := m.RecordTurn(context.Background(), "s1", "q", "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
}

func TestRecordTurnConcurrentSameSession(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewSessionManager(db, 0)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.RecordTurn(ctx, "shared", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
		}(i)
	}
	wg.Wait()

	turns, err := db.ListTurns(ctx, "shared", 0)
	require.NoError(t, err)
	require.Len(t, turns, writers)

	seen := map[string]bool{}
	for _, turn := range turns {
		seen[turn.Question] = true
	}
	for i := 0; i < writers; i++ {
		assert.True(t, seen[fmt.Sprintf("q%d", i)], "turn q%d lost", i)
	}
}

func TestBuildContextAgainstSQLite(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewSessionManager(db, 20)
	ctx := context.Background()
	require.NoError(t, m.RecordTurn(ctx, "s", "What is force majeure?", "An excuse for non-performance."))
	require.NoError(t, m.RecordTurn(ctx, "s", "Give an example.", "A natural disaster."))

	got, err := m.BuildContext(ctx, "s", "Is a pandemic covered?")
	require.NoError(t, err)
	assert.Equal(t,
		"User: What is force majeure?\nAssistant: An excuse for non-performance.\n"+
			"User: Give an example.\nAssistant: A natural disaster.\n"+
			"User: Is a pandemic covered?\nAssistant:",
		got)
}
