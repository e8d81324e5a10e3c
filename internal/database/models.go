package database

import "time"

type User struct {
	Id           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a persisted chat record. Text and File may each be empty, but
// never both; the read flag only ever transitions false to true.
type Message struct {
	Id          int
	SenderId    int
	RecipientId int
	Text        string
	File        string
	Read        bool
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	PasswordHash string
}

type CreateMessageParams struct {
	SenderId    int
	RecipientId int
	Text        string
	File        string
}
