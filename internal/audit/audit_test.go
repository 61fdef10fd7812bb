package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

func testResult(t *testing.T) *privacy.Result {
	t.Helper()
	d, err := privacy.NewDetector(nil, nil, zap.NewNop())
	require.NoError(t, err)
	return privacy.New(d, nil, zap.NewNop()).AnonymizeText("山田太郎さんに090-1234-5678で連絡した")
}

func recordN(t *testing.T, r Recorder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, r.Record(context.Background(), NewEvent(OpAnonymize, "req", testResult(t))))
	}
}

func TestNewEventCarriesCountsOnly(t *testing.T) {
	res := testResult(t)
	e := NewEvent(OpAnonymize, "req-1", res)

	assert.Equal(t, res.SessionID, e.SessionID)
	assert.Equal(t, 2, e.TotalCount)
	assert.Equal(t, 1, e.Counts["氏名"])
	assert.Equal(t, 1, e.Counts["電話番号"])

	empty := NewEvent(OpVerify, "req-2", nil)
	assert.Equal(t, 0, empty.TotalCount)
	assert.NotNil(t, empty.Counts)
}

func TestMemoryRecorderBuildsValidChain(t *testing.T) {
	r := NewMemoryRecorder()
	recordN(t, r, 3)

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, genesisHash, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, int64(3), events[2].Sequence)
	assert.NoError(t, VerifyChain(events))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	build := func() []*Event {
		r := NewMemoryRecorder()
		recordN(t, r, 3)
		return r.Events()
	}

	tests := []struct {
		name   string
		tamper func([]*Event) []*Event
		index  int
	}{
		{"edited count", func(es []*Event) []*Event { es[1].TotalCount = 99; return es }, 1},
		{"removed event", func(es []*Event) []*Event { return append(es[:1], es[2:]...) }, 1},
		{"relinked hash", func(es []*Event) []*Event { es[2].PrevHash = genesisHash; return es }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyChain(tt.tamper(build()))
			var chainErr *ChainError
			require.True(t, errors.As(err, &chainErr), "got %v", err)
			assert.Equal(t, tt.index, chainErr.Index)
		})
	}

	assert.NoError(t, VerifyChain(nil))
}

func TestCountsScan(t *testing.T) {
	var c Counts
	require.NoError(t, c.Scan([]byte(`{"氏名":2}`)))
	assert.Equal(t, 2, c["氏名"])
	require.NoError(t, c.Scan(nil))
	assert.Empty(t, c)
	assert.Error(t, c.Scan(42))

	v, err := Counts{"住所": 1}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"住所":1}`, string(v.([]byte)))
}

func TestNewDisabledIsNop(t *testing.T) {
	r, err := New(config.AuditConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopRecorder{}, r)
	assert.NoError(t, r.Record(context.Background(), &Event{}))
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://user:***@db:5432/x", maskDatabaseURL("postgres://user:pw@db:5432/x"))
	assert.Equal(t, "postgres://user@db/x", maskDatabaseURL("postgres://user@db/x"))
}

// Runs against a real database when SENTINEL_TEST_DATABASE_URL is set.
func TestPostgresStoreIntegration(t *testing.T) {
	url := os.Getenv("SENTINEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(config.AuditConfig{DatabaseURL: url, MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	recordN(t, store, 2)
	assert.NoError(t, store.Verify(context.Background()))

	// concurrent writers retry instead of dropping events
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		e := NewEvent(OpAnonymize, "req", testResult(t))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Record(context.Background(), e)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.NoError(t, store.Verify(context.Background()))
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization abort", &pq.Error{Code: "40001"}, true},
		{"wrapped", fmt.Errorf("failed to commit audit event: %w", &pq.Error{Code: "40001"}), true},
		{"duplicate sequence", &pq.Error{Code: "23505"}, true},
		{"other pq error", &pq.Error{Code: "42P01"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSerializationFailure(tt.err))
		})
	}
}
