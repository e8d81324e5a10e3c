package types

import (
	"time"
)

type User struct {
	Id        int       `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// OnlineUser is one entry of the full-state presence push. One entry is
// emitted per connection, so a user connected from two devices appears twice.
type OnlineUser struct {
	UserId   int    `json:"userId"`
	Username string `json:"username"`
}

type Message struct {
	Id        int       `json:"id"`
	Sender    int       `json:"sender"`
	Recipient int       `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
