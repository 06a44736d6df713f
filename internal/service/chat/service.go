// Package chat implements sending, deleting and paging through direct messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/metrics"
	"github.com/vovakirdan/pairchat/internal/store"
)

const (
	// MaxMessageRunes bounds the length of a message text.
	MaxMessageRunes = 4000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrNotFriends      = errors.New("you can only message friends")
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("only the sender can delete a message")
)

// Store is the persistence the chat service needs.
type Store interface {
	IsFriend(ctx context.Context, userID, friendID int64) (bool, error)
	store.MessageStore
}

// NameResolver returns the name to stamp on a sender's messages.
type NameResolver interface {
	DisplayName(ctx context.Context, userID int64) string
}

// Service handles chat messages between friends.
type Service struct {
	store Store
	names NameResolver
	pub   core.Publisher
	now   func() time.Time
	log   *zerolog.Logger
}

// New creates a chat service. pub may be nil.
func New(st Store, names NameResolver, pub core.Publisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store: st,
		names: names,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger,
	}
}

// ToCore converts a stored message to its live-feed form.
func ToCore(m *store.Message) core.Message {
	return core.Message{
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		DisplayName:     m.DisplayName,
		Text:            m.Text,
		CreatedAt:       m.CreatedAt,
	}
}

// Send stores a message from one friend to another and publishes it on the conversation topic.
func (s *Service) Send(ctx context.Context, from, to int64, text string) (*core.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return nil, ErrMessageTooLong
	}
	if err := s.requireFriends(ctx, from, to); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ConversationKey: conversation.Key(from, to),
		SenderID:        from,
		Text:            text,
		DisplayName:     s.names.DisplayName(ctx, from),
		CreatedAt:       s.now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	metrics.MessagesSent.Inc()

	out := ToCore(msg)
	s.publish(ctx, msg.ConversationKey, &core.Event{Kind: core.EventMessageAdded, Message: &out})
	return &out, nil
}

// Delete removes a message. Only its sender may do so.
func (s *Service) Delete(ctx context.Context, userID, messageID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("get message: %w", err)
	}
	if msg.SenderID != userID {
		return ErrForbidden
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.publish(ctx, msg.ConversationKey, &core.Event{Kind: core.EventMessageDeleted, MessageID: messageID})
	return nil
}

// History returns up to limit messages between me and friend in ascending order.
// When beforeID is set only older messages are returned.
func (s *Service) History(ctx context.Context, me, friend int64, limit int, beforeID *int64) ([]core.Message, error) {
	if err := s.requireFriends(ctx, me, friend); err != nil {
		return nil, err
	}
	rows, err := s.store.ListMessages(ctx, conversation.Key(me, friend), ClampLimit(limit), beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]core.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, ToCore(m))
	}
	return out, nil
}

// ClampLimit maps a requested page size into 1..MaxHistoryLimit, defaulting when unset.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func (s *Service) requireFriends(ctx context.Context, a, b int64) error {
	if a == b {
		return ErrNotFriends
	}
	ok, err := s.store.IsFriend(ctx, a, b)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

func (s *Service) publish(ctx context.Context, key string, ev *core.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, conversation.ConversationTopic(key), ev); err != nil {
		s.log.Warn().Err(err).Str("conversation", key).Str("event", ev.Kind.String()).Msg("publish conversation event")
	}
}
