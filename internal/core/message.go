package core

import "time"

// Message is the live-feed view of a chat message.
type Message struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	SenderID        int64     `json:"sender_id"`
	DisplayName     string    `json:"display_name"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
}

// Friend is an entry of a user's friends list.
type Friend struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoData   string `json:"photo_data,omitempty"`
}
