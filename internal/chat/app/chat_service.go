package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/metrics"

	"golang.org/x/time/rate"
)

// Stores every backend the chat service runs on.
type Stores struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Indexer       repository.SearchIndexer
	Blobs         repository.BlobStore
	Directory     repository.UserDirectory
	Presence      repository.PresenceRepository
	Typing        repository.TypingRepository
	Transport     repository.EventTransport
	// Exporter may be nil.
	Exporter repository.EventExporter
}

// NewMemoryStores single process backends, for local runs and tests.
func NewMemoryStores(typingExpiry time.Duration) Stores {
	msgs := repository.NewMemoryMessageRepository()
	return Stores{
		Conversations: repository.NewMemoryConversationRepository(),
		Messages:      msgs,
		Indexer:       repository.NewMemorySearchIndexer(),
		Blobs:         repository.NewMemoryBlobStore(),
		Directory:     repository.NewMemoryUserDirectory(),
		Presence:      repository.NewMemoryPresenceRepository(),
		Typing:        repository.NewMemoryTypingRepository(typingExpiry),
		Transport:     repository.NewLoopbackTransport(),
	}
}

// ChatService the command surface shared by every connected client.
type ChatService struct {
	Conversations *ConversationUseCase
	Messages      *MessageUseCase
	Presence      *PresenceUseCase
	Typing        *TypingUseCase
	Search        *SearchUseCase
	Bus           *EventBus

	typingInterval time.Duration
}

// NewChatService wires the use cases over s. cfg zero values get defaults.
func NewChatService(cfg config.Chat, s Stores) *ChatService {
	cfg.Defaults()
	bus := NewEventBus(s.Transport, s.Exporter)
	conv := NewConversationUseCase(s.Conversations, s.Messages, s.Directory, bus)
	return &ChatService{
		Conversations:  conv,
		Messages:       NewMessageUseCase(conv, s.Messages, s.Indexer, s.Blobs, s.Directory, bus, cfg.Paging.MessageLimit),
		Presence:       NewPresenceUseCase(s.Presence, bus, cfg.Presence.Timeout),
		Typing:         NewTypingUseCase(conv, s.Typing, bus, cfg.Typing.Expiry),
		Search:         NewSearchUseCase(s.Conversations, s.Messages, s.Indexer, s.Directory, cfg.Paging.SearchLimit),
		Bus:            bus,
		typingInterval: cfg.Typing.MinInterval,
	}
}

// Start connects the bus transport.
func (s *ChatService) Start(ctx context.Context) error {
	return s.Bus.Start(ctx)
}

// Close .
func (s *ChatService) Close() error {
	return s.Bus.Close()
}

// NewSession subscribes a connected client. push gets every frame for the
// client and must not block.
func (s *ChatService) NewSession(userID string, push func(frame interface{})) (*ChatSession, error) {
	sess := newChatSession(s, userID, push, rate.NewLimiter(rate.Every(s.typingInterval), 1))
	metrics.ActiveSessions.Inc()
	if err := sess.subscribe(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}
