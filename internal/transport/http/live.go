package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/service/chat"
	"github.com/vovakirdan/pairchat/internal/service/friends"
)

// liveQueries attaches clients to live topics. Every subscription first
// receives a snapshot of the current result set, then incremental events.
type liveQueries struct {
	hub     *core.Hub
	friends *friends.Service
	chat    *chat.Service
}

// subscribeConversation subscribes client to the message feed it shares with friendID.
func (l *liveQueries) subscribeConversation(ctx context.Context, client *core.Client, friendID int64) (string, error) {
	if friendID == client.UserID {
		return "", chat.ErrNotFriends
	}
	ok, err := l.friends.IsFriend(ctx, client.UserID, friendID)
	if err != nil {
		return "", fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return "", chat.ErrNotFriends
	}

	topic := conversation.ConversationTopic(conversation.Key(client.UserID, friendID))
	// Hold the topic before reading the snapshot so no event falls between the two.
	if err := l.hub.Hold(ctx, client, topic); err != nil {
		return "", err
	}

	msgs, err := l.chat.History(ctx, client.UserID, friendID, chat.MaxHistoryLimit, nil)
	if err != nil {
		_ = l.hub.Unsubscribe(ctx, client, topic)
		return "", err
	}

	var lastID int64
	for _, m := range msgs {
		lastID = max(lastID, m.ID)
	}
	covered := func(ev *core.Event) bool {
		return ev.Kind == core.EventMessageAdded && ev.Message != nil && ev.Message.ID <= lastID
	}
	if err := l.hub.Activate(ctx, client, topic, &core.Event{Kind: core.EventSnapshot, Messages: msgs}, covered); err != nil {
		return "", err
	}
	return topic, nil
}

// subscribeFriends subscribes client to its own friends list.
func (l *liveQueries) subscribeFriends(ctx context.Context, client *core.Client) (string, error) {
	topic := conversation.FriendsTopic(client.UserID)
	if err := l.hub.Hold(ctx, client, topic); err != nil {
		return "", err
	}

	list, err := l.friends.List(ctx, client.UserID)
	if err != nil {
		_ = l.hub.Unsubscribe(ctx, client, topic)
		return "", err
	}
	if err := l.hub.Activate(ctx, client, topic, &core.Event{Kind: core.EventSnapshot, Friends: list}, nil); err != nil {
		return "", err
	}
	return topic, nil
}

func (l *liveQueries) unsubscribeConversation(ctx context.Context, client *core.Client, friendID int64) error {
	return l.hub.Unsubscribe(ctx, client, conversation.ConversationTopic(conversation.Key(client.UserID, friendID)))
}

func (l *liveQueries) unsubscribeFriends(ctx context.Context, client *core.Client) error {
	return l.hub.Unsubscribe(ctx, client, conversation.FriendsTopic(client.UserID))
}

// errorCode maps service errors to live protocol error codes.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		return core.ErrCodeBadRequest, err.Error()
	case errors.Is(err, chat.ErrNotFriends), errors.Is(err, friends.ErrNotFriends):
		return core.ErrCodeNotFriends, err.Error()
	case errors.Is(err, chat.ErrForbidden):
		return core.ErrCodeForbidden, err.Error()
	case errors.Is(err, chat.ErrMessageNotFound):
		return core.ErrCodeNotFound, err.Error()
	case errors.Is(err, core.ErrAlreadySubscribed):
		return core.ErrCodeAlreadySubbed, err.Error()
	case errors.Is(err, core.ErrNotSubscribed):
		return core.ErrCodeNotSubscribed, err.Error()
	case errors.Is(err, core.ErrSlowConsumer):
		return core.ErrCodeSlowConsumer, err.Error()
	default:
		return core.ErrCodeInternal, "internal error"
	}
}
