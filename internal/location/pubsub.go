package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/track"
)

// receiver is the part of *pubsub.Subscriber the provider uses.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// PubSubConfig holds configuration for a PubSubProvider.
type PubSubConfig struct {
	ProjectID    string
	Subscription string
	Logger       zerolog.Logger
}

// PubSubProvider reads fixes published by a device gateway to a Pub/Sub subscription.
type PubSubProvider struct {
	client       *pubsub.Client
	subscriber   receiver
	subscription string
	logger       zerolog.Logger
}

// NewPubSubProvider connects to Pub/Sub.
func NewPubSubProvider(ctx context.Context, cfg PubSubConfig) (*PubSubProvider, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.Subscription)

	// Fixes must be delivered in order, one at a time.
	subscriber.ReceiveSettings.NumGoroutines = 1
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	p := newPubSubProvider(subscriber, cfg.Subscription, cfg.Logger)
	p.client = client
	return p, nil
}

func newPubSubProvider(r receiver, subscription string, logger zerolog.Logger) *PubSubProvider {
	return &PubSubProvider{
		subscriber:   r,
		subscription: subscription,
		logger:       logger.With().Str("provider", "pubsub").Str("subscription", subscription).Logger(),
	}
}

// Close closes the Pub/Sub client.
func (p *PubSubProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

type cancelSubscription struct {
	cancel context.CancelFunc
}

func (s cancelSubscription) Cancel() { s.cancel() }

// Subscribe receives messages until cancelled. A receive failure or a
// device error report ends the subscription through onError.
func (p *PubSubProvider) Subscribe(ctx context.Context, onFix func(context.Context, track.Fix), onError func(error)) (session.Subscription, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		once    sync.Once
		failure error
	)
	fail := func(err error) {
		once.Do(func() {
			failure = err
			cancel()
		})
	}

	p.logger.Info().Msg("subscribing to fixes")

	go func() {
		err := p.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			p.handleMessage(ctx, msg, onFix, fail)
		})
		switch {
		case failure != nil:
			onError(failure)
		case err != nil && !errors.Is(err, context.Canceled):
			onError(fmt.Errorf("pubsub receive: %w", err))
		}
	}()

	return cancelSubscription{cancel: cancel}, nil
}

func (p *PubSubProvider) handleMessage(ctx context.Context, msg *pubsub.Message, onFix func(context.Context, track.Fix), fail func(error)) {
	logger := p.logger.With().Str("message_id", msg.ID).Logger()

	fix, err := Decode(msg.Data)
	if err != nil {
		var deviceErr *DeviceError
		if errors.As(err, &deviceErr) {
			msg.Ack()
			fail(deviceErr)
			return
		}
		// Ack malformed messages to prevent redelivery.
		logger.Warn().Err(err).Msg("discarding malformed fix message")
		msg.Ack()
		return
	}

	if ctx.Err() != nil {
		msg.Nack()
		return
	}

	onFix(ctx, fix)
	msg.Ack()
}
