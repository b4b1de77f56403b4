package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/track"
)

// messageReader is the part of *kafka.Reader the provider uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds configuration for a KafkaProvider.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  zerolog.Logger
}

// KafkaProvider consumes fixes from a Kafka topic. Device ids are used as
// message keys upstream so one device's fixes stay in one partition.
type KafkaProvider struct {
	newReader func() messageReader
	topic     string
	logger    zerolog.Logger
}

// NewKafkaProvider creates a provider; readers are opened per subscription.
func NewKafkaProvider(cfg KafkaConfig) (*KafkaProvider, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}

	logger := cfg.Logger.With().Str("provider", "kafka").Str("topic", cfg.Topic).Logger()
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			StartOffset:    kafka.LastOffset,
			MinBytes:       1,
			MaxBytes:       1e6,
			MaxWait:        500 * time.Millisecond,
			ReadBackoffMin: 100 * time.Millisecond,
			ReadBackoffMax: time.Second,
			Dialer:         dialer,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Warn().Msgf(msg, args...)
			}),
		})
	}

	return newKafkaProvider(newReader, cfg.Topic, cfg.Logger), nil
}

func newKafkaProvider(newReader func() messageReader, topic string, logger zerolog.Logger) *KafkaProvider {
	return &KafkaProvider{
		newReader: newReader,
		topic:     topic,
		logger:    logger.With().Str("provider", "kafka").Str("topic", topic).Logger(),
	}
}

// Subscribe opens a reader and delivers fixes until cancelled.
func (p *KafkaProvider) Subscribe(ctx context.Context, onFix func(context.Context, track.Fix), onError func(error)) (session.Subscription, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reader := p.newReader()

	p.logger.Info().Msg("subscribing to fixes")

	go func() {
		defer func() {
			if err := reader.Close(); err != nil {
				p.logger.Warn().Err(err).Msg("closing kafka reader")
			}
		}()

		if err := p.consume(ctx, reader, onFix); err != nil {
			onError(err)
		}
	}()

	return cancelSubscription{cancel: cancel}, nil
}

// consume returns nil when ctx is cancelled and the failure otherwise.
func (p *KafkaProvider) consume(ctx context.Context, reader messageReader, onFix func(context.Context, track.Fix)) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		fix, err := Decode(msg.Value)
		var deviceErr *DeviceError
		switch {
		case errors.As(err, &deviceErr):
			p.commit(ctx, reader, msg)
			return deviceErr
		case err != nil:
			p.logger.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("discarding malformed fix message")
		default:
			onFix(ctx, fix)
		}

		p.commit(ctx, reader, msg)
	}
}

func (p *KafkaProvider) commit(ctx context.Context, reader messageReader, msg kafka.Message) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("committing offset")
	}
}
