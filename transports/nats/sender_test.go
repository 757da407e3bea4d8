package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) PublishMsg(msg *natsgo.Msg) error {
	return m.Called(msg).Error(0)
}

func (m *mockConn) FlushWithContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestSubjectFromURI(t *testing.T) {
	tests := []struct {
		uri     string
		subject string
		wantErr bool
	}{
		{"nats://subject/orders.placed", "orders.placed", false},
		{"nats://subject/orders", "orders", false},
		{"nats://subject/", "", true},
		{"nats://subject/orders.*", "", true},
		{"nats://stream/orders", "", true},
		{"kafka://topic/orders", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			subject, err := SubjectFromURI(contracts.MustParseURI(tt.uri))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSubject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestSenderSend(t *testing.T) {
	uri := contracts.MustParseURI("nats://subject/orders.placed")

	t.Run("maps the envelope onto a message", func(t *testing.T) {
		conn := &mockConn{}
		sender, err := NewSender(uri, conn)
		require.NoError(t, err)

		env := contracts.NewEnvelope("OrderPlaced", []byte(`{"id":5}`))
		env.CorrelationID = "corr-5"
		env.OwnerID = "node-5"
		env.ReplyURI = contracts.MustParseURI("nats://subject/replies.node5")
		env.SetHeader("traceparent", "00-x-y-01")

		conn.On("PublishMsg", mock.MatchedBy(func(msg *natsgo.Msg) bool {
			return msg.Subject == "orders.placed" &&
				msg.Reply == "replies.node5" &&
				string(msg.Data) == `{"id":5}` &&
				msg.Header.Get(natsgo.MsgIdHdr) == env.ID &&
				msg.Header.Get(HeaderMessageType) == "OrderPlaced" &&
				msg.Header.Get(HeaderCorrelationID) == "corr-5" &&
				msg.Header.Get(HeaderOwnerID) == "node-5" &&
				msg.Header.Get(HeaderContentType) == contracts.DefaultContentType &&
				msg.Header.Get("traceparent") == "00-x-y-01"
		})).Return(nil).Once()

		require.NoError(t, sender.Send(context.Background(), env))
		conn.AssertExpectations(t)
		conn.AssertNotCalled(t, "FlushWithContext", mock.Anything)
	})

	t.Run("non nats reply uri is not a reply subject", func(t *testing.T) {
		env := contracts.NewEnvelope("A", nil)
		env.ReplyURI = contracts.MustParseURI("rabbitmq://queue/replies")
		assert.Empty(t, toMsg("s", env).Reply)
	})

	t.Run("flushes when configured", func(t *testing.T) {
		conn := &mockConn{}
		sender, err := NewSender(uri, conn, WithFlush(true))
		require.NoError(t, err)

		conn.On("PublishMsg", mock.Anything).Return(nil).Once()
		conn.On("FlushWithContext", mock.Anything).Return(nil).Once()

		require.NoError(t, sender.Send(context.Background(), contracts.NewEnvelope("A", nil)))
		conn.AssertExpectations(t)
	})

	t.Run("wraps publish and flush errors", func(t *testing.T) {
		conn := &mockConn{}
		sender, err := NewSender(uri, conn, WithFlush(true))
		require.NoError(t, err)

		conn.On("PublishMsg", mock.Anything).Return(natsgo.ErrConnectionClosed).Once()
		err = sender.Send(context.Background(), contracts.NewEnvelope("A", nil))
		var sendErr *messaging.SendError
		require.ErrorAs(t, err, &sendErr)
		assert.ErrorIs(t, err, natsgo.ErrConnectionClosed)

		flushErr := errors.New("flush timeout")
		conn.On("PublishMsg", mock.Anything).Return(nil).Once()
		conn.On("FlushWithContext", mock.Anything).Return(flushErr).Once()
		assert.ErrorIs(t, sender.Send(context.Background(), contracts.NewEnvelope("A", nil)), flushErr)
	})
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(&mockConn{})

	sender, err := factory(contracts.MustParseURI("nats://subject/a.b"))
	require.NoError(t, err)
	assert.False(t, sender.SupportsNativeScheduledSend())
	assert.NoError(t, sender.(*Sender).Close())

	_, err = factory(contracts.MustParseURI("nats://subject/"))
	assert.Error(t, err)
}
