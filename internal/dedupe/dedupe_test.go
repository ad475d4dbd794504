package dedupe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu    sync.Mutex
	seen  map[string]bool
	err   error
	calls int
}

func (m *memRepo) ClaimInbound(_ context.Context, orgID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := orgID + "/" + messageID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func TestGuard_ClaimIsIdempotent(t *testing.T) {
	g := NewGuard(&memRepo{})
	ctx := context.Background()

	ok, err := g.Claim(ctx, "org", "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 3; i++ {
		ok, err = g.Claim(ctx, "org", "wamid.1")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestGuard_EmptyMessageIDSkipsStore(t *testing.T) {
	repo := &memRepo{}
	g := NewGuard(repo)

	for i := 0; i < 2; i++ {
		ok, err := g.Claim(context.Background(), "org", "")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Zero(t, repo.calls)
}

func TestGuard_StoreFailureAccepts(t *testing.T) {
	g := NewGuard(&memRepo{err: errors.New("db down")})

	ok, err := g.Claim(context.Background(), "org", "wamid.2")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestGuard_ConcurrentDeliveries(t *testing.T) {
	g := NewGuard(&memRepo{})
	var mu sync.Mutex
	accepted := 0

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := g.Claim(context.Background(), "org", "wamid.same")
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}
