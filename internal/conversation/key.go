// Package conversation derives identifiers for per-pair conversations and the
// live topics clients subscribe to.
package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const keyPrefix = "dm"

// ErrInvalidKey is returned when a key does not have the dm:{min}:{max} shape.
var ErrInvalidKey = errors.New("invalid conversation key")

// Key returns the identifier shared by both members of a pair.
// The two user IDs are sorted, so Key(a, b) == Key(b, a).
func Key(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return keyPrefix + ":" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// Parse splits a key back into its two members, lowest first.
func Parse(key string) (int64, int64, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != keyPrefix {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	a, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	b, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if a > b {
		return 0, 0, fmt.Errorf("%w: members out of order", ErrInvalidKey)
	}
	return a, b, nil
}

// IsMember reports whether userID is one of the two members of key.
func IsMember(key string, userID int64) bool {
	a, b, err := Parse(key)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

// Other returns the member of key that is not userID.
func Other(key string, userID int64) (int64, error) {
	a, b, err := Parse(key)
	if err != nil {
		return 0, err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return 0, fmt.Errorf("user %d is not a member of %s", userID, key)
	}
}

const conversationTopicPrefix = "conv:"

// ConversationTopic is the live topic carrying the message feed of one conversation.
func ConversationTopic(key string) string {
	return conversationTopicPrefix + key
}

// KeyFromTopic returns the conversation key of a conversation topic.
func KeyFromTopic(topic string) (string, bool) {
	return strings.CutPrefix(topic, conversationTopicPrefix)
}

// FriendsTopic is the live topic carrying changes to a user's friends list.
func FriendsTopic(userID int64) string {
	return "friends:" + strconv.FormatInt(userID, 10)
}
