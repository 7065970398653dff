package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// moderationServer answers like the moderation endpoint. Keys listed in
// rejected get a 401; failStatus, when set, is returned for every other key.
type moderationServer struct {
	calls      atomic.Int32
	rejected   map[string]bool
	failStatus atomic.Int32
	delay      time.Duration
}

func (s *moderationServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.rejected[key] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status := s.failStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}

		var req moderationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		flagged := strings.Contains(req.Input, "bad")
		json.NewEncoder(w).Encode(moderationResponse{
			Results: []moderationResult{{
				Flagged: flagged,
				Categories: map[string]bool{
					"violence":   flagged,
					"harassment": flagged,
					"sexual":     false,
				},
			}},
		})
	}
}

func newTestModerator(t *testing.T, srv *moderationServer, keys []string, opts ...Option) *Moderator {
	t.Helper()
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)

	opts = append([]Option{WithRetry(time.Millisecond, 2)}, opts...)
	return New(domain.NewKeyPool("moderation", keys), ts.URL, "", opts...)
}

func TestModerator_Check(t *testing.T) {
	srv := &moderationServer{}
	m := newTestModerator(t, srv, []string{"k1"})

	v, err := m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.Equal(t, []string{"harassment", "violence"}, v.Categories, "categories are sorted")

	v, err = m.Check(context.Background(), "a nice thing")
	require.NoError(t, err)
	assert.False(t, v.Flagged)
	assert.Empty(t, v.Categories)
}

func TestModerator_ShortTextSkipsRemote(t *testing.T) {
	srv := &moderationServer{}
	m := newTestModerator(t, srv, []string{"k1"})

	for _, text := range []string{"", "a", "ok", "да"} {
		v, err := m.Check(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, domain.CleanVerdict(), v)
	}
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestModerator_NoKeys(t *testing.T) {
	srv := &moderationServer{}
	m := newTestModerator(t, srv, nil)

	v, err := m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)
	assert.False(t, v.Flagged)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestModerator_CacheHit(t *testing.T) {
	srv := &moderationServer{}
	m := newTestModerator(t, srv, []string{"k1"})

	first, err := m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)

	// Mutating a returned verdict must not leak into the cache.
	first.Categories[0] = "tampered"

	second, err := m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)

	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Equal(t, []string{"harassment", "violence"}, second.Categories)

	hits, misses, size := m.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

func TestModerator_ConcurrentSameText(t *testing.T) {
	srv := &moderationServer{delay: 50 * time.Millisecond}
	m := newTestModerator(t, srv, []string{"k1"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.Check(context.Background(), "a bad thing")
			assert.NoError(t, err)
			assert.True(t, v.Flagged)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), srv.calls.Load(), "same text must reach the endpoint once")
}

func TestModerator_SerialisesRemoteCalls(t *testing.T) {
	var inFlight, peak atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(moderationResponse{Results: []moderationResult{{}}})
	}))
	defer ts.Close()

	m := New(domain.NewKeyPool("moderation", []string{"k"}), ts.URL, "")

	var wg sync.WaitGroup
	for _, text := range []string{"first text", "second text", "third text", "fourth text"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := m.Check(context.Background(), text)
			assert.NoError(t, err)
		}(text)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "at most one moderation request in flight")
}

func TestModerator_EvictsRejectedKey(t *testing.T) {
	srv := &moderationServer{rejected: map[string]bool{"dead": true}}

	var evicted []string
	m := newTestModerator(t, srv, []string{"dead", "live"},
		WithEvictHook(func(_, key, _ string) { evicted = append(evicted, key) }),
	)

	v, err := m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.Equal(t, []string{"dead"}, evicted)
	key, err := m.Pool().Next()
	require.NoError(t, err)
	assert.Equal(t, "live", key)
}

func TestModerator_KeyPrefix(t *testing.T) {
	var got atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(moderationResponse{Results: []moderationResult{{}}})
	}))
	defer ts.Close()

	m := New(domain.NewKeyPool("moderation", []string{"abc"}), ts.URL, "sk-")
	_, err := m.Check(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-abc", got.Load())
}

func TestModerator_DegradedIsNotCached(t *testing.T) {
	srv := &moderationServer{}
	srv.failStatus.Store(http.StatusInternalServerError)
	m := newTestModerator(t, srv, []string{"k1"})

	v, err := m.Check(context.Background(), "a bad thing")
	require.ErrorIs(t, err, domain.ErrModerationDegraded)
	assert.True(t, v.Degraded)
	assert.Equal(t, "Request failed with status code: 500", v.Detail)
	assert.Equal(t, int32(3), srv.calls.Load(), "first attempt plus two retries")

	_, _, size := m.Stats()
	assert.Equal(t, 0, size)

	// The endpoint recovers: the next check goes remote again.
	srv.failStatus.Store(0)
	v, err = m.Check(context.Background(), "a bad thing")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.False(t, v.Degraded)
}

func TestModerator_AllKeysRejected(t *testing.T) {
	srv := &moderationServer{rejected: map[string]bool{"a": true, "b": true}}
	m := newTestModerator(t, srv, []string{"a", "b"}, WithRetry(time.Millisecond, 5))

	v, err := m.Check(context.Background(), "a bad thing")
	require.ErrorIs(t, err, domain.ErrModerationDegraded)
	assert.True(t, v.Degraded)
	assert.Equal(t, 0, m.Pool().ActiveCount())
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestModerator_ContextCancelled(t *testing.T) {
	srv := &moderationServer{}
	srv.failStatus.Store(http.StatusBadGateway)
	m := newTestModerator(t, srv, []string{"k1"}, WithRetry(10*time.Millisecond, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	v, err := m.Check(ctx, "some text here")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrModerationDegraded)
	assert.False(t, v.Degraded)
	assert.Less(t, time.Since(start), time.Second)
}

// slowClassifier flags every text after delay.
type slowClassifier struct {
	delay time.Duration
	calls atomic.Int32
}

func (c *slowClassifier) Classify(ctx context.Context, _, _ string) (domain.ModerationVerdict, error) {
	c.calls.Add(1)
	select {
	case <-time.After(c.delay):
		return domain.ModerationVerdict{Flagged: true, Categories: []string{"violence"}}, nil
	case <-ctx.Done():
		return domain.ModerationVerdict{}, ctx.Err()
	}
}

func TestModerator_SharedFlightSurvivesCallerDeadline(t *testing.T) {
	classifier := &slowClassifier{delay: 100 * time.Millisecond}
	m := New(domain.NewKeyPool("moderation", []string{"k1"}), "", "",
		WithClassifier(classifier), WithRetry(time.Millisecond, 0))

	text := "some shared text"

	var (
		wg            sync.WaitGroup
		shortV, longV domain.ModerationVerdict
		shortE, longE error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		shortV, shortE = m.Check(ctx, text)
	}()
	go func() {
		defer wg.Done()
		// Let the short caller start the flight.
		time.Sleep(5 * time.Millisecond)
		longV, longE = m.Check(context.Background(), text)
	}()
	wg.Wait()

	assert.ErrorIs(t, shortE, context.DeadlineExceeded)
	assert.NotErrorIs(t, shortE, domain.ErrModerationDegraded)
	assert.False(t, shortV.Degraded)

	require.NoError(t, longE)
	assert.True(t, longV.Flagged)
	assert.False(t, longV.Degraded)
	assert.Equal(t, int32(1), classifier.calls.Load(), "both callers share one remote call")

	// The verdict is cached even though the starting caller gave up.
	v, err := m.Check(context.Background(), text)
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.Equal(t, int32(1), classifier.calls.Load())
}
