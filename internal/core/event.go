package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventSnapshot delivers the full result set when a subscription starts.
	EventSnapshot EventKind = iota
	// EventMessageAdded notifies subscribers of a new message in a conversation.
	EventMessageAdded
	// EventMessageDeleted notifies subscribers that a message was removed.
	EventMessageDeleted
	// EventFriendAdded notifies a user that their friends list gained an entry.
	EventFriendAdded
	// EventFriendRemoved notifies a user that their friends list lost an entry.
	EventFriendRemoved
	// EventProfileUpdated notifies a user that one of their friends changed their profile.
	EventProfileUpdated
	// EventError notifies a client about a failed request.
	EventError
	// EventAccessRevoked is consumed by the hub, never sent to clients: it
	// detaches the clients of UserIDs from the topic it is published on.
	EventAccessRevoked
)

var eventKindNames = map[EventKind]string{
	EventSnapshot:       "snapshot",
	EventMessageAdded:   "message_added",
	EventMessageDeleted: "message_deleted",
	EventFriendAdded:    "friend_added",
	EventFriendRemoved:  "friend_removed",
	EventProfileUpdated: "profile_updated",
	EventError:          "error",
	EventAccessRevoked:  "access_revoked",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Event is sent to clients to describe what happened in the system.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind  `json:"kind"`
	Topic     string     `json:"topic"`
	Message   *Message   `json:"message,omitempty"`
	Messages  []Message  `json:"messages,omitempty"` // EventSnapshot of a conversation
	MessageID int64      `json:"message_id,omitempty"`
	Friend    *Friend    `json:"friend,omitempty"`
	Friends   []Friend   `json:"friends,omitempty"` // EventSnapshot of a friends list
	Error     *CoreError `json:"error,omitempty"`
	UserIDs   []int64    `json:"user_ids,omitempty"` // EventAccessRevoked
}
