package notifications

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"dmp-portal-client/internal/domain"
	apperrors "dmp-portal-client/pkg/errors"
)

type fakeAPI struct {
	mu      sync.Mutex
	calls   []string
	respond func(path string, out interface{}) error
}

func (f *fakeAPI) Do(_ context.Context, _ string, path string, _, out interface{}) error {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(path, out)
	}
	return nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func respondWith(notifications []domain.Notification) func(string, interface{}) error {
	return func(_ string, out interface{}) error {
		*(out.(*[]domain.Notification)) = notifications
		return nil
	}
}

func TestFetchDedupesByID(t *testing.T) {
	list := []domain.Notification{
		{ID: 1, Kind: domain.NotificationAccessRequest, Status: domain.NotificationPending},
		{ID: 2, Kind: domain.NotificationAccessRequest, Status: domain.NotificationPending},
	}
	api := &fakeAPI{respond: respondWith(list)}
	poller := NewPoller(api)

	var updates [][]domain.Notification
	poller.SetUpdateHandler(func(fresh []domain.Notification) { updates = append(updates, fresh) })

	require.NoError(t, poller.fetchOnce(context.Background(), 7))
	require.NoError(t, poller.fetchOnce(context.Background(), 7))

	// Both fetches return the same ids; the handler fires once.
	require.Len(t, updates, 1)
	assert.Len(t, updates[0], 2)
	assert.Len(t, poller.Notifications(), 2)
}

func TestFetchPathScopesOwnerAndStatus(t *testing.T) {
	api := &fakeAPI{respond: respondWith(nil)}
	poller := NewPoller(api)

	require.NoError(t, poller.fetchOnce(context.Background(), 42))

	api.mu.Lock()
	path := api.calls[0]
	api.mu.Unlock()
	assert.True(t, strings.Contains(path, "owner_id=42"))
	assert.True(t, strings.Contains(path, "status=pending"))
}

func TestFailedFetchKeepsCachedList(t *testing.T) {
	list := []domain.Notification{{ID: 1, Kind: domain.NotificationAccessRequest}}
	healthy := true
	api := &fakeAPI{respond: func(_ string, out interface{}) error {
		if !healthy {
			return apperrors.RequestFailedError(500, "boom", nil)
		}
		*(out.(*[]domain.Notification)) = list
		return nil
	}}
	poller := NewPoller(api)
	poller.retryDelay = time.Millisecond

	require.NoError(t, poller.fetchWithRetries(context.Background(), 7, 3))
	require.Len(t, poller.Notifications(), 1)

	healthy = false
	before := api.callCount()
	err := poller.fetchWithRetries(context.Background(), 7, 3)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRequestFailed))

	// The retry budget was spent and the last good list survived.
	assert.Equal(t, before+3, api.callCount())
	assert.Len(t, poller.Notifications(), 1)
}

func TestRateLimitSkipsRetries(t *testing.T) {
	api := &fakeAPI{respond: func(string, interface{}) error {
		return apperrors.RateLimitedError()
	}}
	poller := NewPoller(api)
	poller.retryDelay = time.Millisecond

	err := poller.fetchWithRetries(context.Background(), 7, 3)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimited))
	assert.Equal(t, 1, api.callCount())
}

func TestStartStop(t *testing.T) {
	api := &fakeAPI{respond: respondWith([]domain.Notification{{ID: 9}})}
	poller := NewPoller(api)

	poller.Start(context.Background(), 7, time.Minute, 1)
	poller.Start(context.Background(), 7, time.Minute, 1) // second start is a no-op

	assert.Eventually(t, func() bool {
		return len(poller.Notifications()) == 1
	}, time.Second, 10*time.Millisecond)

	poller.Stop()
	poller.Stop() // idempotent

	// The cached list stays readable after Stop.
	assert.Len(t, poller.Notifications(), 1)
}

func TestRateLimitedDoublesWait(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	api := &fakeAPI{respond: func(_ string, out interface{}) error {
		mu.Lock()
		first := len(stamps) == 0
		stamps = append(stamps, time.Now())
		mu.Unlock()
		if first {
			*(out.(*[]domain.Notification)) = []domain.Notification{{ID: 3}}
			return nil
		}
		return apperrors.RateLimitedError()
	}}
	poller := NewPoller(api)
	poller.minSpacing = 0
	poller.limiter = rate.NewLimiter(rate.Inf, 1)
	poller.retryDelay = time.Millisecond

	interval := 100 * time.Millisecond
	poller.Start(context.Background(), 7, interval, 1)
	defer poller.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	poller.Stop()

	mu.Lock()
	afterSuccess := stamps[1].Sub(stamps[0])
	afterRateLimit := stamps[2].Sub(stamps[1])
	mu.Unlock()

	// One interval after a success, two after a rate limit.
	assert.Less(t, afterSuccess, 2*interval)
	assert.GreaterOrEqual(t, afterRateLimit, 2*interval)

	// The rate-limited fetches never replaced the last good list.
	assert.Len(t, poller.Notifications(), 1)
}
