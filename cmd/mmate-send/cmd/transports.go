package cmd

import (
	"log/slog"
	"net/url"
	"sync"

	mmate "github.com/glimte/mmate-outbound"
	"github.com/glimte/mmate-outbound/internal/config"
	"github.com/glimte/mmate-outbound/messaging"
	"github.com/glimte/mmate-outbound/transports/kafka"
	"github.com/glimte/mmate-outbound/transports/memory"
	"github.com/glimte/mmate-outbound/transports/nats"
	"github.com/glimte/mmate-outbound/transports/nsq"
	"github.com/glimte/mmate-outbound/transports/rabbitmq"
)

// lazyFactory defers connecting until the first destination using the transport is seen
func lazyFactory(connect func() (messaging.SenderFactory, error)) messaging.SenderFactory {
	var (
		once    sync.Once
		factory messaging.SenderFactory
		err     error
	)
	return func(uri *url.URL) (messaging.Sender, error) {
		once.Do(func() {
			factory, err = connect()
		})
		if err != nil {
			return nil, err
		}
		return factory(uri)
	}
}

// transportOptions registers a sender factory for every supported scheme
func transportOptions(cfg config.Config, logger *slog.Logger, registry *memory.Registry) []mmate.ClientOption {
	return []mmate.ClientOption{
		mmate.WithTransport(rabbitmq.Scheme, lazyFactory(func() (messaging.SenderFactory, error) {
			publisher := rabbitmq.NewConfirmPublisher(cfg.RabbitMQ.URL,
				rabbitmq.WithLogger(logger),
				rabbitmq.WithConfirmTimeout(cfg.RabbitMQ.ConfirmTimeout),
			)
			return rabbitmq.NewFactory(publisher,
				rabbitmq.WithDelayedExchange(cfg.RabbitMQ.DelayedExchange),
				rabbitmq.WithSenderLogger(logger),
			), nil
		})),
		mmate.WithTransport(nsq.Scheme, lazyFactory(func() (messaging.SenderFactory, error) {
			producer, err := nsq.NewProducer(cfg.NSQ.NsqdAddr)
			if err != nil {
				return nil, err
			}
			return nsq.NewFactory(producer), nil
		})),
		mmate.WithTransport(kafka.Scheme, lazyFactory(func() (messaging.SenderFactory, error) {
			writer, err := kafka.NewWriter(kafka.WriterConfig{
				Brokers:      cfg.Kafka.Brokers,
				WriteTimeout: cfg.Kafka.WriteTimeout,
				BatchTimeout: cfg.Kafka.BatchTimeout,
			})
			if err != nil {
				return nil, err
			}
			return kafka.NewFactory(writer), nil
		})),
		mmate.WithTransport(nats.Scheme, lazyFactory(func() (messaging.SenderFactory, error) {
			conn, err := nats.Connect(cfg.NATS.URL, cfg.Tracing.ServiceName)
			if err != nil {
				return nil, err
			}
			return nats.NewFactory(conn, nats.WithFlush(cfg.NATS.Flush)), nil
		})),
		mmate.WithTransport(memory.Scheme, registry.Factory()),
	}
}
