package masterdata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/cache"
	"github.com/opensource-finance/ratedesk/internal/domain"
)

type upstream struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	sets  map[string][]domain.MasterOption
}

func (u *upstream) OptionSet(_ context.Context, kind string) ([]domain.MasterOption, error) {
	u.calls.Add(1)
	if u.gate != nil {
		<-u.gate
	}
	if u.err != nil {
		return nil, u.err
	}
	return u.sets[kind], nil
}

var countries = []domain.MasterOption{{ID: 1, Label: "United Arab Emirates", Value: "uae"}}

func TestCachedReadsThrough(t *testing.T) {
	up := &upstream{sets: map[string][]domain.MasterOption{"countries": countries}}
	src := NewCached(up, cache.NewLRUCache(10), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := src.OptionSet(ctx, "countries")
		require.NoError(t, err)
		assert.Equal(t, countries, got)
	}
	assert.EqualValues(t, 1, up.calls.Load())

	require.NoError(t, src.Invalidate(ctx, "countries"))
	_, err := src.OptionSet(ctx, "countries")
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.calls.Load())
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	up := &upstream{err: domain.ErrorFromStatus(503, "down")}
	src := NewCached(up, cache.NewLRUCache(10), time.Minute)
	ctx := context.Background()

	_, err := src.OptionSet(ctx, "countries")
	assert.True(t, domain.IsKind(err, domain.KindServerError))

	up.err = nil
	up.sets = map[string][]domain.MasterOption{"countries": countries}
	got, err := src.OptionSet(ctx, "countries")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 2, up.calls.Load())
}

func TestCachedCoalescesMisses(t *testing.T) {
	up := &upstream{gate: make(chan struct{}), sets: map[string][]domain.MasterOption{"countries": countries}}
	src := NewCached(up, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := src.OptionSet(context.Background(), "countries")
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.EqualValues(t, 1, up.calls.Load())
	assert.NoError(t, src.Invalidate(context.Background(), "countries"), "nil store")
}

type memRepo struct {
	domain.Repository
	sets map[string][]domain.MasterOption
}

func (r memRepo) GetMasterData(_ context.Context, kind string) ([]domain.MasterOption, error) {
	return r.sets[kind], nil
}

func TestStore(t *testing.T) {
	s := Store{Repo: memRepo{sets: map[string][]domain.MasterOption{"countries": countries}}}

	got, err := s.OptionSet(context.Background(), "countries")
	require.NoError(t, err)
	assert.Equal(t, countries, got)

	_, err = s.OptionSet(context.Background(), "zones")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
