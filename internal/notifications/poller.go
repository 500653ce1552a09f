// Package notifications polls the access-request feed on a fixed
// interval. The poller is deliberately polite: a hard floor between
// fetches whatever the configured interval says, a doubled wait after a
// rate-limit response, and a bounded retry budget per cycle. The last
// good list survives failed fetches.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/internal/transport"
	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
	"dmp-portal-client/pkg/metrics"
)

// UpdateHandler receives notifications not seen in any earlier fetch.
type UpdateHandler func(fresh []domain.Notification)

// Poller periodically fetches pending notifications for one owner.
type Poller struct {
	api        transport.Requester
	limiter    *rate.Limiter
	minSpacing time.Duration
	retryDelay time.Duration

	mu       sync.Mutex
	cached   []domain.Notification
	seen     map[int64]bool
	onUpdate UpdateHandler
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPoller creates a poller over the request channel.
func NewPoller(api transport.Requester) *Poller {
	return &Poller{
		api:        api,
		limiter:    rate.NewLimiter(rate.Every(constants.MinFetchSpacing), 1),
		minSpacing: constants.MinFetchSpacing,
		retryDelay: constants.RetryDelay,
		seen:       make(map[int64]bool),
	}
}

// SetUpdateHandler registers the consumer of freshly seen notifications.
// Must be called before Start.
func (p *Poller) SetUpdateHandler(h UpdateHandler) {
	p.mu.Lock()
	p.onUpdate = h
	p.mu.Unlock()
}

// Start launches the poll loop for ownerID. interval below the fetch
// floor is raised to it; maxRetries <= 0 uses the default budget.
// Start is a no-op when the poller is already running.
func (p *Poller) Start(ctx context.Context, ownerID int64, interval time.Duration, maxRetries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	if interval < p.minSpacing {
		interval = p.minSpacing
	}
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, ownerID, interval, maxRetries)
}

// Stop halts the loop and waits for it to finish. The cached list stays
// readable after Stop.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Notifications returns the last successfully fetched list.
func (p *Poller) Notifications() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Notification, len(p.cached))
	copy(out, p.cached)
	return out
}

func (p *Poller) loop(ctx context.Context, ownerID int64, interval time.Duration, maxRetries int) {
	defer close(p.doneChan())

	wait := time.Duration(0) // first fetch happens right away
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		// The limiter is the hard floor between fetches, independent of
		// the configured interval.
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		switch err := p.fetchWithRetries(ctx, ownerID, maxRetries); {
		case err == nil:
			wait = interval
		case apperrors.IsCode(err, apperrors.ErrCodeRateLimited):
			wait = 2 * interval
			logger.Warn("notification fetch rate limited, backing off",
				zap.Duration("wait", wait))
		default:
			if ctx.Err() != nil {
				return
			}
			wait = interval
			logger.Warn("notification fetch failed, keeping cached list",
				zap.Error(err))
		}
	}
}

func (p *Poller) doneChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// fetchWithRetries runs one poll cycle. Rate limiting aborts the cycle
// immediately; other failures burn the retry budget with a fixed delay.
func (p *Poller) fetchWithRetries(ctx context.Context, ownerID int64, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}

		err := p.fetchOnce(ctx, ownerID)
		if err == nil {
			metrics.NotificationFetchesTotal.WithLabelValues("success").Inc()
			return nil
		}
		if apperrors.IsCode(err, apperrors.ErrCodeRateLimited) {
			metrics.NotificationFetchesTotal.WithLabelValues("rate_limited").Inc()
			return err
		}
		metrics.NotificationFetchesTotal.WithLabelValues("error").Inc()
		lastErr = err
	}
	return lastErr
}

func (p *Poller) fetchOnce(ctx context.Context, ownerID int64) error {
	path := fmt.Sprintf("/api/notifications?owner_id=%d&status=%s", ownerID, domain.NotificationPending)
	var fetched []domain.Notification
	if err := p.api.Do(ctx, http.MethodGet, path, nil, &fetched); err != nil {
		return err
	}

	p.mu.Lock()
	p.cached = fetched
	var fresh []domain.Notification
	for _, n := range fetched {
		if !p.seen[n.ID] {
			p.seen[n.ID] = true
			fresh = append(fresh, n)
		}
	}
	handler := p.onUpdate
	p.mu.Unlock()

	metrics.NotificationsUnread.Set(float64(len(fetched)))
	if handler != nil && len(fresh) > 0 {
		handler(fresh)
	}
	return nil
}
