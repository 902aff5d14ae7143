// ABOUTME: Tests for the append-only conversation log
// ABOUTME: Covers id/timestamp assignment, ordering, and exactly-once concurrent appends

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilloc/skilloc/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	records, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	return NewLog(records, nil)
}

func TestLog_AppendAssignsIDAndTimestamp(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	msg, err := store.NewMessage("c1", "w1", "hello")
	require.NoError(t, err)

	stored, err := log.Append(ctx, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.TS.IsZero())
	assert.Equal(t, "hello", stored.Text)

	// The input message is not mutated; the stored record is a copy.
	assert.Empty(t, msg.ID)
}

func TestLog_HistoryEmptyForUnknownPair(t *testing.T) {
	log := newTestLog(t)

	history, err := log.History(context.Background(), "c1", "w1")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestLog_HistoryOldestFirstAndSymmetric(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg, err := store.NewMessage("c1", "w1", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
		_, err = log.Append(ctx, msg)
		require.NoError(t, err)
	}

	history, err := log.History(ctx, "c1", "w1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, m := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.Text)
	}

	// Same log regardless of participant order.
	reversed, err := log.History(ctx, "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, history, reversed)
}

func TestLog_BothDirectionsShareOneLog(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	m1, err := store.NewMessage("c1", "w1", "from client")
	require.NoError(t, err)
	_, err = log.Append(ctx, m1)
	require.NoError(t, err)

	m2, err := store.NewMessage("w1", "c1", "from worker")
	require.NoError(t, err)
	_, err = log.Append(ctx, m2)
	require.NoError(t, err)

	history, err := log.History(ctx, "c1", "w1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "from client", history[0].Text)
	assert.Equal(t, "from worker", history[1].Text)
}

func TestLog_ConcurrentAppendsExactlyOnce(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "c1", "w1"
			if i%2 == 1 {
				from, to = "w1", "c1"
			}
			msg, err := store.NewMessage(from, to, fmt.Sprintf("racing-%d", i))
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := log.Append(ctx, msg); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	history, err := log.History(ctx, "c1", "w1")
	require.NoError(t, err)
	require.Len(t, history, n, "no appends lost, none duplicated")

	seen := make(map[string]struct{}, n)
	for _, m := range history {
		seen[m.Text] = struct{}{}
	}
	assert.Len(t, seen, n, "every distinct message present exactly once")
}

func TestLog_IndependentKeysDoNotInterfere(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := store.NewMessage("c1", fmt.Sprintf("w%d", i), "hi")
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := log.Append(ctx, msg); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		history, err := log.History(ctx, "c1", fmt.Sprintf("w%d", i))
		require.NoError(t, err)
		assert.Len(t, history, 1)
	}
}

// failingRecords wraps a Records backend and fails every write.
type failingRecords struct {
	store.Records
}

func (f *failingRecords) Write(ctx context.Context, collection string, records any) error {
	return errors.New("disk full")
}

func TestLog_FailedAppendNotVisible(t *testing.T) {
	records, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	defer records.Close()

	log := NewLog(&failingRecords{Records: records}, nil)
	ctx := context.Background()

	msg, err := store.NewMessage("c1", "w1", "doomed")
	require.NoError(t, err)
	_, err = log.Append(ctx, msg)
	require.Error(t, err)

	history, err := log.History(ctx, "c1", "w1")
	require.NoError(t, err)
	assert.Empty(t, history, "failed persist must not leave the message visible")
}
