package repository

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventTransport carries encoded events between nodes.
type EventTransport interface {
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe delivers every envelope of topics to deliver until the
	// returned subscription is closed or the transport drops it.
	Subscribe(ctx context.Context, topics []domain.Topic, deliver func(domain.Envelope)) (TransportSubscription, error)
}

// TransportSubscription a live transport subscription
type TransportSubscription interface {
	// Done is closed when the subscription ends, closed or dropped.
	Done() <-chan struct{}
	// Err is nil after Close, the drop cause otherwise.
	Err() error
	Close() error
}

// RedisPubSub transport over redis channels chat:topic:<topic>
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

const channelPrefix = "chat:topic:"

func topicChannel(t domain.Topic) string { return channelPrefix + string(t) }

// Publish 將 envelope 序列化後發布到 topic channel
func (r *RedisPubSub) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return storeErr("pubsub.publish", r.client.Publish(ctx, topicChannel(env.Topic), data).Err())
}

// Subscribe 訂閱 topics. The first receive error ends the subscription; the
// caller is expected to resubscribe and refetch.
func (r *RedisPubSub) Subscribe(ctx context.Context, topics []domain.Topic, deliver func(domain.Envelope)) (TransportSubscription, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = topicChannel(t)
	}

	ps := r.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, storeErr("pubsub.subscribe", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	go sub.loop(loopCtx, deliver)
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *redisSubscription) loop(ctx context.Context, deliver func(domain.Envelope)) {
	defer close(s.done)
	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
				logger.Log.Warn("pubsub subscription dropped", zap.Error(err))
			}
			s.mu.Unlock()
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		var env domain.Envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			logger.Log.Error("pubsub decode", zap.String("channel", m.Channel), zap.Error(err))
			continue
		}
		if env.Topic == "" {
			env.Topic = domain.Topic(strings.TrimPrefix(m.Channel, channelPrefix))
		}
		deliver(env)
	}
}

func (s *redisSubscription) Done() <-chan struct{} { return s.done }

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.ps.Close()
}
