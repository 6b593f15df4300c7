package domain

import (
	"encoding/json"
	"fmt"
)

// Topic realtime bus topic
type Topic string

const (
	TopicMessages      Topic = "messages"
	TopicTyping        Topic = "typing"
	TopicPresence      Topic = "presence"
	TopicConversations Topic = "conversations"
)

// Topics all topics, in a fixed order
var Topics = []Topic{TopicMessages, TopicTyping, TopicPresence, TopicConversations}

// Operation what happened to the row
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
)

// Event is one of MessagesEvent, TypingEvent, PresenceEvent, ConversationsEvent.
type Event interface {
	Topic() Topic
	Op() Operation
	// ConversationID is empty for presence.
	ConversationID() string
}

// MessagesEvent .
type MessagesEvent struct {
	Operation Operation
	Message   Message
}

func (e MessagesEvent) Topic() Topic           { return TopicMessages }
func (e MessagesEvent) Op() Operation          { return e.Operation }
func (e MessagesEvent) ConversationID() string { return e.Message.ConversationID }

// TypingEvent .
type TypingEvent struct {
	Operation Operation
	Indicator TypingIndicator
}

func (e TypingEvent) Topic() Topic           { return TopicTyping }
func (e TypingEvent) Op() Operation          { return e.Operation }
func (e TypingEvent) ConversationID() string { return e.Indicator.ConversationID }

// PresenceEvent .
type PresenceEvent struct {
	Operation Operation
	Record    PresenceRecord
}

func (e PresenceEvent) Topic() Topic           { return TopicPresence }
func (e PresenceEvent) Op() Operation          { return e.Operation }
func (e PresenceEvent) ConversationID() string { return "" }

// ConversationsEvent .
type ConversationsEvent struct {
	Operation    Operation
	Conversation Conversation
}

func (e ConversationsEvent) Topic() Topic           { return TopicConversations }
func (e ConversationsEvent) Op() Operation          { return e.Operation }
func (e ConversationsEvent) ConversationID() string { return e.Conversation.ID }

// Envelope wire form of an event, also the websocket push frame body.
type Envelope struct {
	Topic     Topic           `json:"topic"`
	Operation Operation       `json:"operation"`
	Row       json.RawMessage `json:"row"`
}

// EncodeEvent .
func EncodeEvent(e Event) (Envelope, error) {
	var row interface{}
	switch ev := e.(type) {
	case MessagesEvent:
		row = ev.Message
	case TypingEvent:
		row = ev.Indicator
	case PresenceEvent:
		row = ev.Record
	case ConversationsEvent:
		row = ev.Conversation
	default:
		return Envelope{}, fmt.Errorf("unknown event %T", e)
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: e.Topic(), Operation: e.Op(), Row: raw}, nil
}

// DecodeEvent .
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Topic {
	case TopicMessages:
		var m Message
		if err := json.Unmarshal(env.Row, &m); err != nil {
			return nil, err
		}
		return MessagesEvent{Operation: env.Operation, Message: m}, nil
	case TopicTyping:
		var t TypingIndicator
		if err := json.Unmarshal(env.Row, &t); err != nil {
			return nil, err
		}
		return TypingEvent{Operation: env.Operation, Indicator: t}, nil
	case TopicPresence:
		var r PresenceRecord
		if err := json.Unmarshal(env.Row, &r); err != nil {
			return nil, err
		}
		return PresenceEvent{Operation: env.Operation, Record: r}, nil
	case TopicConversations:
		var c Conversation
		if err := json.Unmarshal(env.Row, &c); err != nil {
			return nil, err
		}
		return ConversationsEvent{Operation: env.Operation, Conversation: c}, nil
	}
	return nil, fmt.Errorf("unknown topic %q", env.Topic)
}
