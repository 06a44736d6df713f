package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello       = "hello"
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"
	InboundTypeSend        = "send"
	InboundTypeDelete      = "delete"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventWelcome = "welcome"

	SubscriptionConversation = "conversation"
	SubscriptionFriends      = "friends"
)

// HelloData must be the first frame of a connection.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// SubscribeData selects a live query. FriendID is required for conversations.
type SubscribeData struct {
	Kind     string `json:"kind"`
	FriendID int64  `json:"friend_id,omitempty"`
}

// SendData is a chat message from the client.
type SendData struct {
	FriendID int64  `json:"friend_id"`
	Text     string `json:"text"`
}

// DeleteData asks to delete one of the caller's messages.
type DeleteData struct {
	MessageID int64 `json:"message_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Welcome acknowledges a successful hello.
type Welcome struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Protocol int    `json:"protocol"`
}

// Message is a chat message as seen by clients. TS is in unix milliseconds.
type Message struct {
	ID              int64  `json:"id"`
	ConversationKey string `json:"conversation_key"`
	SenderID        int64  `json:"sender_id"`
	DisplayName     string `json:"display_name"`
	Text            string `json:"text"`
	TS              int64  `json:"ts"`
}

// MessageDeleted identifies a removed message.
type MessageDeleted struct {
	ID              int64  `json:"id"`
	ConversationKey string `json:"conversation_key,omitempty"`
}

// Friend is an entry of the friends list.
type Friend struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoData   string `json:"photo_data,omitempty"`
}

// FriendRemoved identifies a friend that left the list.
type FriendRemoved struct {
	UserID int64 `json:"user_id"`
}

// ConversationSnapshot is the current message feed of a conversation.
type ConversationSnapshot struct {
	ConversationKey string    `json:"conversation_key"`
	Messages        []Message `json:"messages"`
}

// FriendsSnapshot is the current friends list.
type FriendsSnapshot struct {
	Friends []Friend `json:"friends"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
