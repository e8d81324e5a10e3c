package server

import (
	"github.com/npezzotti/go-dmchat/internal/database"
)

// route dispatches a decoded inbound frame to its handler. Unrecognized
// events and frames with no usable recipient are dropped; a bad frame must
// never take down the connection.
func (cs *ChatServer) route(c *Client, evt *ClientEvent) {
	switch evt.Event {
	case eventOpenChat:
		cs.openChat(c, evt.Recipient)
	case eventStartTyping:
		cs.relayTyping(c, evt.Recipient, true)
	case eventStopTyping:
		cs.relayTyping(c, evt.Recipient, false)
	case "":
		cs.deliverMessage(c, evt)
	default:
		cs.log.Printf("dropping frame with unknown event %q from %q", evt.Event, c.user.Username)
	}
}

// relayTyping pushes an ephemeral typing signal to the recipient's live
// connections. Nothing is persisted; an offline recipient means the signal
// simply vanishes.
func (cs *ChatServer) relayTyping(c *Client, recipientId int, typing bool) {
	if recipientId <= 0 {
		cs.log.Printf("dropping typing event from %q: no recipient", c.user.Username)
		return
	}

	evt := &TypingEvent{Typing: typing, Sender: c.user.Id}
	for _, rc := range cs.getClients(recipientId) {
		rc.queueMessage(evt)
	}
}

// deliverMessage persists a chat message and pushes it to the recipient's
// live connections. Persist-before-push is a hard invariant: if the store
// write fails the message is not delivered anywhere. The pushed copy is
// flagged read=true while the stored record remains unread until the
// recipient opens the chat; that window is an accepted trade-off.
func (cs *ChatServer) deliverMessage(c *Client, evt *ClientEvent) {
	if evt.Recipient <= 0 || (evt.Text == "" && evt.File == nil) {
		cs.log.Printf("dropping invalid message frame from %q", c.user.Username)
		return
	}

	var fileRef string
	if evt.File != nil {
		data, err := evt.File.Payload()
		if err != nil {
			cs.log.Printf("dropping message from %q: %v", c.user.Username, err)
			return
		}

		fileRef, err = cs.files.Store(data, evt.File.Name)
		if err != nil {
			cs.log.Println("store attachment:", err)
			return
		}
	}

	msg, err := cs.db.CreateMessage(database.CreateMessageParams{
		SenderId:    c.user.Id,
		RecipientId: evt.Recipient,
		Text:        evt.Text,
		File:        fileRef,
	})
	if err != nil {
		cs.log.Println("create message:", err)
		return
	}

	cs.stats.Incr("NumMessagesSent")

	push := &MessagePush{
		Id:        msg.Id,
		Sender:    msg.SenderId,
		Recipient: msg.RecipientId,
		Text:      msg.Text,
		File:      msg.File,
		CreatedAt: msg.CreatedAt,
		Read:      true,
	}

	// never echoed back to the sender's own connections
	for _, rc := range cs.getClients(evt.Recipient) {
		rc.queueMessage(push)
	}
}

// openChat marks every unread message from peerId to the viewer as read and,
// if the peer is online, notifies each of their connections so the sender's
// UI can reflect the read state. An offline peer gets no notification and no
// deferred retry; the durable flag is discoverable through history queries.
func (cs *ChatServer) openChat(viewer *Client, peerId int) {
	if peerId <= 0 {
		cs.log.Printf("dropping openChat from %q: no recipient", viewer.user.Username)
		return
	}

	n, err := cs.db.MarkMessagesRead(peerId, viewer.user.Id)
	if err != nil {
		cs.log.Println("mark messages read:", err)
		return
	}

	if n > 0 {
		cs.log.Printf("marked %d messages from user %d read for %q", n, peerId, viewer.user.Username)
	}

	evt := &ReadReceiptEvent{MessagesRead: true, Sender: viewer.user.Id}
	for _, pc := range cs.getClients(peerId) {
		pc.queueMessage(evt)
	}
}
