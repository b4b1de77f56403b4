package location

import (
	"context"
	"sync"

	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/track"
)

// PushProvider receives fixes pushed by a caller, typically the HTTP API,
// and hands them to the current subscriber in order.
type PushProvider struct {
	buffer int

	mu  sync.Mutex
	sub *pushSubscription
}

type pushSubscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	fixes  chan track.Fix
	errs   chan error
}

func (s *pushSubscription) Cancel() { s.cancel() }

// NewPushProvider creates a provider queueing at most buffer fixes.
func NewPushProvider(buffer int) *PushProvider {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushProvider{buffer: buffer}
}

// Subscribe starts delivering pushed fixes. A new subscription replaces the previous one.
func (p *PushProvider) Subscribe(ctx context.Context, onFix func(context.Context, track.Fix), onError func(error)) (session.Subscription, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &pushSubscription{
		ctx:    ctx,
		cancel: cancel,
		fixes:  make(chan track.Fix, p.buffer),
		errs:   make(chan error, 1),
	}

	p.mu.Lock()
	if p.sub != nil {
		p.sub.cancel()
	}
	p.sub = sub
	p.mu.Unlock()

	go func() {
		defer p.release(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.errs:
				onError(err)
				return
			case fix := <-sub.fixes:
				onFix(ctx, fix)
			}
		}
	}()

	return sub, nil
}

func (p *PushProvider) release(sub *pushSubscription) {
	sub.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == sub {
		p.sub = nil
	}
}

func (p *PushProvider) current() *pushSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil || p.sub.ctx.Err() != nil {
		return nil
	}
	return p.sub
}

// Push queues a fix, blocking while the queue is full.
func (p *PushProvider) Push(ctx context.Context, fix track.Fix) error {
	sub := p.current()
	if sub == nil {
		return ErrNoSubscriber
	}
	select {
	case sub.fixes <- fix:
		return nil
	case <-sub.ctx.Done():
		return ErrNoSubscriber
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail reports a device failure to the subscriber, ending the subscription.
func (p *PushProvider) Fail(err error) error {
	sub := p.current()
	if sub == nil {
		return ErrNoSubscriber
	}
	select {
	case sub.errs <- err:
	default:
	}
	return nil
}

// Active reports whether a subscriber is listening.
func (p *PushProvider) Active() bool {
	return p.current() != nil
}
