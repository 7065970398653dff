package adapter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// keyedBackends records which credentials were used and rejects the bad ones.
type keyedBackends struct {
	mu   sync.Mutex
	bad  map[string]bool
	used []string
}

func (k *keyedBackends) factory(key string) Backend {
	return backendFunc(func(ctx context.Context, _ []domain.ConversationTurn) (string, error) {
		k.mu.Lock()
		k.used = append(k.used, key)
		k.mu.Unlock()
		if k.bad[key] {
			return "", &StatusError{Backend: "official", StatusCode: 401, Message: "Incorrect API key provided"}
		}
		return "answer from " + key, nil
	})
}

type backendFunc func(ctx context.Context, messages []domain.ConversationTurn) (string, error)

func (f backendFunc) Send(ctx context.Context, messages []domain.ConversationTurn) (string, error) {
	return f(ctx, messages)
}

func TestCredentialedProvider_EvictsRejectedKeys(t *testing.T) {
	backends := &keyedBackends{bad: map[string]bool{"k1": true, "k2": true}}
	pool := domain.NewKeyPool("official", []string{"k1", "k2", "k3"})

	var evicted []string
	p := NewCredentialedProvider("official", pool, backends.factory,
		WithBackoff(0),
		WithEvictHook(func(poolName, key, reason string) {
			assert.Equal(t, "official", poolName)
			evicted = append(evicted, key)
		}),
	)

	out := p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, "answer from k3", out.Text)
	require.NotEmpty(t, evicted)
	for _, key := range evicted {
		assert.True(t, backends.bad[key], "only rejected keys are evicted, got %s", key)
	}
	assert.NotContains(t, evicted, "k3")
	assert.Equal(t, 3-len(evicted), pool.ActiveCount())
	t.Logf("Evicted %v, answered with k3", evicted)
}

func TestCredentialedProvider_EvictedKeyNeverReused(t *testing.T) {
	backends := &keyedBackends{bad: map[string]bool{"bad": true}}
	pool := domain.NewKeyPool("official", []string{"bad", "good"})
	p := NewCredentialedProvider("official", pool, backends.factory, WithBackoff(0))

	for i := 0; i < 10; i++ {
		out := p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})
		require.True(t, out.OK())
	}

	count := 0
	for _, k := range backends.used {
		if k == "bad" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a rejected credential must be tried at most once")
}

func TestCredentialedProvider_Exhaustion(t *testing.T) {
	backends := &keyedBackends{bad: map[string]bool{"a": true, "b": true}}
	pool := domain.NewKeyPool("token", []string{"a", "b"})
	p := NewCredentialedProvider("token", pool, backends.factory, WithBackoff(50*time.Millisecond))

	start := time.Now()
	out := p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})

	assert.Equal(t, domain.OutcomeFailure, out.Kind)
	assert.Equal(t, domain.ErrNoCredentials.Error(), out.Reason)
	assert.Equal(t, 0, pool.ActiveCount())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// An empty pool never reaches the backend.
	backends.used = nil
	out = p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})
	assert.Equal(t, domain.OutcomeFailure, out.Kind)
	assert.Empty(t, backends.used)
}

func TestCredentialedProvider_NonAuthErrorKeepsKey(t *testing.T) {
	pool := domain.NewKeyPool("official", []string{"k1", "k2"})
	p := NewCredentialedProvider("official", pool, func(key string) Backend {
		return backendFunc(func(context.Context, []domain.ConversationTurn) (string, error) {
			return "", &StatusError{Backend: "official", StatusCode: 503, Message: "overloaded"}
		})
	}, WithBackoff(0))

	out := p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})

	assert.Equal(t, domain.OutcomeFailure, out.Kind)
	assert.Equal(t, 2, pool.ActiveCount(), "transient errors must not evict")
}

func TestCredentialedProvider_ConcurrentEviction(t *testing.T) {
	keys := make([]string, 20)
	bad := map[string]bool{}
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%02d", i)
		if i%2 == 0 {
			bad[keys[i]] = true
		}
	}
	backends := &keyedBackends{bad: bad}
	pool := domain.NewKeyPool("official", keys)
	p := NewCredentialedProvider("official", pool, backends.factory, WithBackoff(0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Invoke(context.Background(), hello, CallOptions{Timeout: time.Second})
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, pool.ActiveCount(), 10, "accepted keys are never evicted")
	for i, n := 0, pool.ActiveCount(); i < n; i++ {
		key, err := pool.Next()
		require.NoError(t, err)
		assert.False(t, bad[key], "rejected %s must be evicted", key)
	}
}
