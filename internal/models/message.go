package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Attachment is an uploaded file reference attached to a message. The service
// never inspects the contents; upload and storage happen elsewhere.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Attachments is stored as a JSON column.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Attachments) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("attachments: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, a)
}

// Message represents a chat message. SenderName is denormalized at send time
// so history loads do not need a user lookup.
type Message struct {
	ID          int         `db:"id" json:"id"`
	ChatID      int         `db:"chat_id" json:"chat_id"`
	SenderID    int         `db:"sender_id" json:"sender_id"`
	SenderName  string      `db:"sender_name" json:"sender_name"`
	Content     string      `db:"content" json:"content"`
	Attachments Attachments `db:"attachments" json:"attachments,omitempty"`
	ReplyToID   *int        `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Empty reports whether the message has neither text nor attachments. Such
// messages are rejected before persistence.
func (m Message) Empty() bool {
	return m.Content == "" && len(m.Attachments) == 0
}

// MessagePage is one page of reverse-chronological history.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	TotalPages int       `json:"totalPages"`
}
