package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Publisher is the write side of the bus used by the use cases.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// ConnectionStatus of the bus transport
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// EventFilter selects the events a subscription wants.
type EventFilter func(domain.Event) bool

// ForConversation events of one conversation.
func ForConversation(id string) EventFilter {
	return func(ev domain.Event) bool { return ev.ConversationID() == id }
}

// AllEvents .
func AllEvents(domain.Event) bool { return true }

// Subscription handle returned by Subscribe, owned by the caller.
type Subscription struct {
	id      uint64
	topic   domain.Topic
	filter  EventFilter
	handler func(domain.Event)
	active  *atomic.Bool
	bus     *EventBus
}

// Topic .
func (s *Subscription) Topic() domain.Topic { return s.topic }

// Active false once unsubscribed.
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe is idempotent and may be called from inside the handler.
func (s *Subscription) Unsubscribe() {
	if s.active.CAS(true, false) {
		s.bus.remove(s)
	}
}

// EventBus fans published events out to subscribers. Every topic has its
// own FIFO queue drained by one goroutine, so handlers of a topic run one
// at a time in publish order. There is no ordering across topics.
type EventBus struct {
	transport repository.EventTransport
	exporter  repository.EventExporter

	nextID *atomic.Uint64

	mu        sync.Mutex
	subs      map[domain.Topic]map[uint64]*Subscription
	queues    map[domain.Topic]*topicQueue
	tsub      repository.TransportSubscription
	status    ConnectionStatus
	listeners map[uint64]func(ConnectionStatus)
	closed    bool
}

// NewEventBus exporter may be nil.
func NewEventBus(transport repository.EventTransport, exporter repository.EventExporter) *EventBus {
	b := &EventBus{
		transport: transport,
		exporter:  exporter,
		nextID:    atomic.NewUint64(0),
		subs:      make(map[domain.Topic]map[uint64]*Subscription),
		queues:    make(map[domain.Topic]*topicQueue),
		status:    StatusDisconnected,
		listeners: make(map[uint64]func(ConnectionStatus)),
	}
	for _, t := range domain.Topics {
		q := newTopicQueue()
		b.queues[t] = q
		b.subs[t] = make(map[uint64]*Subscription)
		go b.drain(t, q)
	}
	return b
}

// Start opens the transport subscription.
func (b *EventBus) Start(ctx context.Context) error {
	return b.connect(ctx)
}

// Resubscribe re-establishes a dropped transport subscription. Events
// published while disconnected are lost; callers must refetch.
func (b *EventBus) Resubscribe(ctx context.Context) error {
	b.mu.Lock()
	connected := b.status == StatusConnected
	b.mu.Unlock()
	if connected {
		return nil
	}
	return b.connect(ctx)
}

func (b *EventBus) connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus closed")
	}
	old := b.tsub
	b.tsub = nil
	b.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	tsub, err := b.transport.Subscribe(ctx, domain.Topics, b.enqueue)
	if err != nil {
		return domain.Transient("bus.subscribe", err)
	}

	b.mu.Lock()
	b.tsub = tsub
	b.mu.Unlock()
	b.setStatus(StatusConnected)

	go b.watch(tsub)
	return nil
}

func (b *EventBus) watch(tsub repository.TransportSubscription) {
	<-tsub.Done()
	if tsub.Err() == nil {
		return
	}
	b.mu.Lock()
	current := b.tsub == tsub
	if current {
		b.tsub = nil
	}
	b.mu.Unlock()
	if current {
		logger.Log.Warn("event bus disconnected", zap.Error(tsub.Err()))
		b.setStatus(StatusDisconnected)
	}
}

func (b *EventBus) setStatus(s ConnectionStatus) {
	b.mu.Lock()
	if b.status == s {
		b.mu.Unlock()
		return
	}
	b.status = s
	listeners := make([]func(ConnectionStatus), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Status current transport status.
func (b *EventBus) Status() ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// OnStatus registers fn for status changes; call the returned func to stop.
func (b *EventBus) OnStatus(fn func(ConnectionStatus)) func() {
	id := b.nextID.Inc()
	b.mu.Lock()
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish encodes ev, hands it to the transport and exports it.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	env, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, env); err != nil {
		return domain.Transient("bus.publish", err)
	}
	metrics.EventsPublished.WithLabelValues(string(env.Topic)).Inc()

	if b.exporter != nil {
		key := ev.ConversationID()
		if key == "" {
			key = string(env.Topic)
		}
		if err := b.exporter.Export(ctx, key, env); err != nil {
			metrics.EventsDropped.WithLabelValues("export").Inc()
			logger.Log.Warn("event export failed", zap.String("topic", string(env.Topic)), zap.Error(err))
		}
	}
	return nil
}

// Subscribe handler gets every event of topic accepted by filter (nil
// accepts all), in publish order.
func (b *EventBus) Subscribe(topic domain.Topic, filter EventFilter, handler func(domain.Event)) (*Subscription, error) {
	if filter == nil {
		filter = AllEvents
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[topic]
	if !ok {
		return nil, domain.NewValidationError("bus.subscribe", "unknown topic "+string(topic))
	}
	s := &Subscription{
		id:      b.nextID.Inc(),
		topic:   topic,
		filter:  filter,
		handler: handler,
		active:  atomic.NewBool(true),
		bus:     b,
	}
	subs[s.id] = s
	return s, nil
}

// Unsubscribe same as s.Unsubscribe, nil is ignored.
func (b *EventBus) Unsubscribe(s *Subscription) {
	if s != nil {
		s.Unsubscribe()
	}
}

func (b *EventBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.topic], s.id)
}

func (b *EventBus) enqueue(env domain.Envelope) {
	q, ok := b.queues[env.Topic]
	if !ok {
		metrics.EventsDropped.WithLabelValues("unknown_topic").Inc()
		return
	}
	q.push(env)
}

func (b *EventBus) snapshot(topic domain.Topic) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (b *EventBus) drain(topic domain.Topic, q *topicQueue) {
	for {
		env, ok := q.pop()
		if !ok {
			return
		}
		ev, err := domain.DecodeEvent(env)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("decode").Inc()
			logger.Log.Error("event decode", zap.String("topic", string(topic)), zap.Error(err))
			continue
		}
		for _, s := range b.snapshot(topic) {
			if !s.Active() || !s.filter(ev) {
				continue
			}
			b.deliver(s, ev)
		}
	}
}

func (b *EventBus) deliver(s *Subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("event handler panic", zap.String("topic", string(s.topic)), zap.Any("panic", r))
		}
	}()
	s.handler(ev)
	metrics.EventsDelivered.WithLabelValues(string(s.topic)).Inc()
}

// Close stops the dispatch goroutines and the transport subscription.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	tsub := b.tsub
	b.tsub = nil
	b.mu.Unlock()

	for _, q := range b.queues {
		q.close()
	}
	if tsub != nil {
		return tsub.Close()
	}
	return nil
}

// topicQueue unbounded FIFO so a slow handler never blocks the transport.
type topicQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []domain.Envelope
	closed bool
}

func newTopicQueue() *topicQueue {
	q := &topicQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *topicQueue) push(env domain.Envelope) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, env)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *topicQueue) pop() (domain.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return domain.Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = domain.Envelope{}
	q.items = q.items[1:]
	return env, true
}

func (q *topicQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}
