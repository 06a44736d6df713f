package http

import (
	"github.com/vovakirdan/pairchat/internal/conversation"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/proto"
)

func toProtoMessage(m core.Message) proto.Message {
	return proto.Message{
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		DisplayName:     m.DisplayName,
		Text:            m.Text,
		TS:              m.CreatedAt.UnixMilli(),
	}
}

func toProtoMessages(msgs []core.Message) []proto.Message {
	out := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toProtoMessage(m))
	}
	return out
}

func toProtoFriend(f core.Friend) proto.Friend {
	return proto.Friend{
		UserID:      f.UserID,
		Username:    f.Username,
		DisplayName: f.DisplayName,
		PhotoData:   f.PhotoData,
	}
}

func toProtoFriends(friends []core.Friend) []proto.Friend {
	out := make([]proto.Friend, 0, len(friends))
	for _, f := range friends {
		out = append(out, toProtoFriend(f))
	}
	return out
}

// eventPayload returns the client-facing data of a live event.
func eventPayload(event *core.Event) any {
	switch event.Kind {
	case core.EventSnapshot:
		if key, ok := conversation.KeyFromTopic(event.Topic); ok {
			return proto.ConversationSnapshot{ConversationKey: key, Messages: toProtoMessages(event.Messages)}
		}
		return proto.FriendsSnapshot{Friends: toProtoFriends(event.Friends)}
	case core.EventMessageAdded:
		if event.Message == nil {
			return nil
		}
		return toProtoMessage(*event.Message)
	case core.EventMessageDeleted:
		key, _ := conversation.KeyFromTopic(event.Topic)
		return proto.MessageDeleted{ID: event.MessageID, ConversationKey: key}
	case core.EventFriendAdded, core.EventProfileUpdated:
		if event.Friend == nil {
			return nil
		}
		return toProtoFriend(*event.Friend)
	case core.EventFriendRemoved:
		if event.Friend == nil {
			return nil
		}
		return proto.FriendRemoved{UserID: event.Friend.UserID}
	default:
		return nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	if event.Kind == core.EventError {
		out := errorOutbound(core.ErrCodeInternal, "unknown error")
		if event.Error != nil {
			out = errorOutbound(event.Error.Code, event.Error.Message)
		}
		out.Topic = event.Topic
		return out
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: event.Kind.String(),
		Topic: event.Topic,
		Data:  eventPayload(event),
	}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}
