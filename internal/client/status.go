package client

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/models"
)

const (
	DefaultPollInterval = 30 * time.Second
	// DefaultDebounce is the window within which any number of events cause
	// at most one re-pull.
	DefaultDebounce = 500 * time.Millisecond
)

// Status is the global unread signal shown by a UI.
type Status struct {
	SystemUnreadCount int       `json:"systemUnreadCount"`
	IMUnreadCount     int       `json:"imUnreadCount"`
	TotalUnreadCount  int       `json:"totalUnreadCount"`
	HasUnreadMessages bool      `json:"hasUnreadMessages"`
	IsLoading         bool      `json:"isLoading"`
	Stale             bool      `json:"stale"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Fetcher pulls an unread snapshot.
type Fetcher interface {
	Unread(ctx context.Context) (models.UnreadSnapshot, error)
}

// EventSource streams delivery channel events until ctx ends.
type EventSource interface {
	Run(ctx context.Context, handle func(models.Event)) error
}

type StatusOptions struct {
	PollInterval time.Duration
	Debounce     time.Duration
	Clock        clock.Clock
	Logger       *logger.Logger
	// OnEvent sees every streamed event, e.g. Client.ApplyEvent.
	OnEvent func(models.Event)
}

// StatusProvider keeps Status fresh from an initial pull, a poll timer and
// debounced re-pulls on stream events. A failed pull keeps the last good
// counts and marks them stale.
type StatusProvider struct {
	fetch  Fetcher
	events EventSource
	opts   StatusOptions
	log    *logger.Logger

	mu     sync.RWMutex
	status Status

	updates chan Status
	trigger chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewStatusProvider builds a provider. events may be nil for poll-only use.
func NewStatusProvider(fetch Fetcher, events EventSource, opts StatusOptions) *StatusProvider {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &StatusProvider{
		fetch:   fetch,
		events:  events,
		opts:    opts,
		log:     opts.Logger.Named("status"),
		status:  Status{IsLoading: true},
		updates: make(chan Status, 1),
		trigger: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start seeds the status with one pull, then polls and listens for events
// in the background. Only the first call has an effect.
func (p *StatusProvider) Start(ctx context.Context) error {
	err := errors.New("status provider already started")
	p.startOnce.Do(func() {
		p.mu.Lock()
		select {
		case <-p.stopped:
			p.mu.Unlock()
			err = errors.New("status provider stopped")
			return
		default:
		}
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		// Stop waits for the seed pull too, so updates stays open until it returns.
		p.wg.Add(1)
		p.mu.Unlock()
		defer p.wg.Done()

		p.refresh(ctx)
		if ctx.Err() != nil {
			err = errors.New("status provider stopped")
			return
		}
		err = nil

		p.wg.Add(1)
		go p.loop(ctx)
		if p.events != nil {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				if err := p.events.Run(ctx, p.handleEvent); err != nil && ctx.Err() == nil {
					p.log.Warn("event source stopped", zap.Error(err))
				}
			}()
		}
	})
	return err
}

// Stop cancels the poll timer and the event subscription. It is safe to
// call more than once, before Start and while Start is still seeding.
func (p *StatusProvider) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stopped)
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		close(p.updates)
	})
}

// Current returns the latest status.
func (p *StatusProvider) Current() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Updates delivers the newest status after each pull. A slow reader only
// misses intermediate values. The channel closes on Stop.
func (p *StatusProvider) Updates() <-chan Status {
	return p.updates
}

// Refresh requests a debounced re-pull.
func (p *StatusProvider) Refresh() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *StatusProvider) handleEvent(event models.Event) {
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(event)
	}
	if event.Type == models.EventHeartbeat {
		return
	}
	// connected after a reconnect also re-pulls to catch up on missed events
	p.Refresh()
}

func (p *StatusProvider) loop(ctx context.Context) {
	defer p.wg.Done()
	poll := p.opts.Clock.NewTimer(p.opts.PollInterval)
	defer poll.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.Chan():
			p.refresh(ctx)
			poll.Reset(p.opts.PollInterval)
		case <-p.trigger:
			if debounce == nil {
				debounce = p.opts.Clock.After(p.opts.Debounce)
			}
		case <-debounce:
			debounce = nil
			p.refresh(ctx)
		}
	}
}

func (p *StatusProvider) refresh(ctx context.Context) {
	snapshot, err := p.fetch.Unread(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if err != nil {
		p.log.Warn("unread pull failed, keeping last known counts", zap.Error(err))
		p.status.Stale = true
	} else {
		p.status = Status{
			SystemUnreadCount: snapshot.System,
			IMUnreadCount:     snapshot.Project + snapshot.Private,
			TotalUnreadCount:  snapshot.Total,
			HasUnreadMessages: snapshot.Total > 0,
			UpdatedAt:         p.opts.Clock.Now(),
		}
	}
	current := p.status
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return
	default:
	}
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- current:
	default:
	}
}
