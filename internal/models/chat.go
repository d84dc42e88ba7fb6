package models

import "time"

// Chat represents a conversation between two or more users. Direct chats have
// exactly two members and no name; group chats carry a name.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name,omitempty"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatorID int       `db:"creator_id" json:"creator_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// Members is populated by the repository, not scanned directly.
	Members []int `db:"-" json:"members"`
}

// ChatSummary is the API-friendly view of a chat in the user's chat list.
type ChatSummary struct {
	ChatID  int       `db:"id" json:"chat_id"`
	Name    string    `db:"name" json:"name,omitempty"`
	IsGroup bool      `db:"is_group" json:"is_group"`
	Created time.Time `db:"created_at" json:"created_at"`
}
