package database

import (
	"database/sql"
	"time"
)

type PgDmChatRepository struct {
	conn *sql.DB
}

func NewPgDmChatRepository(dsn string) (*PgDmChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgDmChatRepository{conn: db}, nil
}

func (db *PgDmChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgDmChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgDmChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $3) RETURNING id, username, created_at, updated_at",
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgDmChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgDmChatRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, created_at, updated_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgDmChatRepository) ListAccounts() ([]User, error) {
	rows, err := db.conn.Query("SELECT id, username FROM accounts ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users = make([]User, 0)
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username); err != nil {
			break
		}

		users = append(users, u)
	}

	return users, err
}

func (db *PgDmChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (sender_id, recipient_id, text, file, read, created_at) "+
			"VALUES ($1, $2, $3, $4, FALSE, $5) RETURNING id, created_at",
		params.SenderId,
		params.RecipientId,
		params.Text,
		params.File,
		time.Now().UTC(),
	)

	msg := Message{
		SenderId:    params.SenderId,
		RecipientId: params.RecipientId,
		Text:        params.Text,
		File:        params.File,
		Read:        false,
	}
	err := res.Scan(&msg.Id, &msg.CreatedAt)

	return msg, err
}

func (db *PgDmChatRepository) MarkMessagesRead(senderId, recipientId int) (int64, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET read = TRUE WHERE sender_id = $1 AND recipient_id = $2 AND read = FALSE",
		senderId,
		recipientId,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgDmChatRepository) GetConversation(userA, userB, page, pageSize int) ([]Message, error) {
	if page <= 0 {
		page = 1
	}

	if pageSize <= 0 {
		pageSize = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, sender_id, recipient_id, text, file, read, created_at FROM messages "+
			"WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1) "+
			"ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		userA,
		userB,
		pageSize,
		(page-1)*pageSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, pageSize)
}

func (db *PgDmChatRepository) GetUnreadMessages(recipientId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, sender_id, recipient_id, text, file, read, created_at FROM messages "+
			"WHERE recipient_id = $1 AND read = FALSE ORDER BY created_at",
		recipientId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, 0)
}

func scanMessages(rows *sql.Rows, sizeHint int) ([]Message, error) {
	var messages = make([]Message, 0, sizeHint)
	var err error
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.SenderId,
			&msg.RecipientId,
			&msg.Text,
			&msg.File,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	if err == nil {
		err = rows.Err()
	}

	return messages, err
}
