package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
	gonsq "github.com/nsqio/go-nsq"
)

// Scheme is the URI scheme handled by this transport
const Scheme = "nsq"

var ErrInvalidTopic = errors.New("nsq: invalid topic")

// Producer is the subset of *nsq.Producer used for sending
type Producer interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

// Sender publishes JSON encoded envelopes to one nsq://<topic> destination.
// Envelopes scheduled for later are published with DeferredPublish.
type Sender struct {
	uri      *url.URL
	topic    string
	producer Producer
	now      func() time.Time
}

// NewProducer connects a go-nsq producer to nsqd
func NewProducer(nsqdAddr string) (*gonsq.Producer, error) {
	return gonsq.NewProducer(nsqdAddr, gonsq.NewConfig())
}

// TopicFromURI extracts the topic from nsq://<topic>
func TopicFromURI(uri *url.URL) (string, error) {
	if uri == nil || uri.Scheme != Scheme {
		return "", fmt.Errorf("%w: expected %s:// uri, got %v", ErrInvalidTopic, Scheme, uri)
	}
	topic := uri.Host
	if topic == "" {
		topic = strings.Trim(uri.Path, "/")
	}
	if !gonsq.IsValidTopicName(topic) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return topic, nil
}

// NewSender creates a sender for uri
func NewSender(uri *url.URL, producer Producer) (*Sender, error) {
	topic, err := TopicFromURI(uri)
	if err != nil {
		return nil, err
	}
	return &Sender{uri: uri, topic: topic, producer: producer, now: time.Now}, nil
}

// NewFactory returns a factory creating senders that share producer
func NewFactory(producer Producer) messaging.SenderFactory {
	return func(uri *url.URL) (messaging.Sender, error) {
		return NewSender(uri, producer)
	}
}

func (s *Sender) Destination() *url.URL {
	return s.uri
}

func (s *Sender) SupportsNativeScheduledSend() bool {
	return true
}

// Send publishes the envelope. go-nsq producers are synchronous, so ctx is only checked
// before publishing.
func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return messaging.NewSendError(s.uri, fmt.Errorf("encode envelope: %w", err))
	}

	if env.IsScheduledForLater(s.now()) {
		err = s.producer.DeferredPublish(s.topic, env.ScheduledTime.Sub(s.now()), body)
	} else {
		err = s.producer.Publish(s.topic, body)
	}
	if err != nil {
		return messaging.NewSendError(s.uri, err)
	}
	return nil
}

// Close stops the producer when it is a go-nsq producer
func (s *Sender) Close() error {
	if p, ok := s.producer.(*gonsq.Producer); ok {
		p.Stop()
	}
	return nil
}
