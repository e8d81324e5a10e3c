package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/npezzotti/go-dmchat/internal/types"
)

const (
	eventOpenChat    = "openChat"
	eventStartTyping = "startTyping"
	eventStopTyping  = "stopTyping"
)

// ClientEvent is the decoded form of an inbound frame. Control events carry
// an Event name and a recipient; chat messages have no Event field and carry
// recipient plus at least one of Text and File.
type ClientEvent struct {
	Event     string      `json:"event,omitempty"`
	Recipient int         `json:"recipient,omitempty"`
	Text      string      `json:"text,omitempty"`
	File      *FileUpload `json:"file,omitempty"`
}

// FileUpload is an attachment inlined in a chat message frame. Data is either
// a base64 data URL ("data:<mime>;base64,<payload>") or bare base64.
type FileUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (f *FileUpload) Payload() ([]byte, error) {
	data := f.Data
	if _, b64, ok := strings.Cut(data, ","); ok {
		data = b64
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode file payload: %w", err)
	}

	return raw, nil
}

func decodeClientEvent(raw []byte) (*ClientEvent, error) {
	var evt ClientEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	return &evt, nil
}

// PresenceEvent is the full-state online push sent to every connection
// whenever registry membership changes.
type PresenceEvent struct {
	Online []types.OnlineUser `json:"online"`
}

type TypingEvent struct {
	Typing bool `json:"typing"`
	Sender int  `json:"sender"`
}

type ReadReceiptEvent struct {
	MessagesRead bool `json:"messagesRead"`
	Sender       int  `json:"sender"`
}

// MessagePush is the copy of a chat message delivered to a live recipient
// connection. Read is true in the pushed copy even though the stored record
// starts unread; the open-chat receipt reconciles the stored flag later.
type MessagePush struct {
	Id        int       `json:"id"`
	Sender    int       `json:"sender"`
	Recipient int       `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
