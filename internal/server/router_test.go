package server

import (
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-dmchat/internal/database"
	"github.com/npezzotti/go-dmchat/internal/stats"
	"github.com/npezzotti/go-dmchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockFileStore struct {
	mock.Mock
}

func (m *mockFileStore) Store(data []byte, originalName string) (string, error) {
	args := m.Called(data, originalName)
	return args.String(0), args.Error(1)
}

func Test_deliverMessage(t *testing.T) {
	sender := types.User{Id: 1, Username: "alice"}
	recipient := types.User{Id: 2, Username: "bob"}
	createdAt := Now()

	t.Run("persists then pushes to online recipient", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", database.CreateMessageParams{
			SenderId:    sender.Id,
			RecipientId: recipient.Id,
			Text:        "hello",
		}).Return(database.Message{
			Id:          10,
			SenderId:    sender.Id,
			RecipientId: recipient.Id,
			Text:        "hello",
			CreatedAt:   createdAt,
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()
		su.On("Incr", "NumMessagesSent").Once()

		cs := newTestChatServer(t, db, su)

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		recipientClient := &Client{user: recipient, send: make(chan any, 1)}
		cs.addClient(recipientClient)

		cs.deliverMessage(senderClient, &ClientEvent{Recipient: recipient.Id, Text: "hello"})

		select {
		case msg := <-recipientClient.send:
			push, ok := msg.(*MessagePush)
			assert.True(t, ok, "expected a message push")
			assert.Equal(t, 10, push.Id, "expected stored message id")
			assert.Equal(t, sender.Id, push.Sender)
			assert.Equal(t, recipient.Id, push.Recipient)
			assert.Equal(t, "hello", push.Text)
			assert.Equal(t, createdAt, push.CreatedAt)
			assert.True(t, push.Read, "pushed copy is flagged read")
		default:
			t.Error("expected message to be pushed to recipient")
		}

		select {
		case msg := <-senderClient.send:
			t.Errorf("expected no echo to sender, got %v", msg)
		default:
		}
	})

	t.Run("persists for offline recipient", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.Anything).Return(database.Message{
			Id:          11,
			SenderId:    sender.Id,
			RecipientId: recipient.Id,
			Text:        "hello",
			CreatedAt:   createdAt,
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumMessagesSent").Once()

		cs := newTestChatServer(t, db, su)

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		cs.deliverMessage(senderClient, &ClientEvent{Recipient: recipient.Id, Text: "hello"})
	})

	t.Run("does not push when store write fails", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.Anything).
			Return(database.Message{}, errors.New("connection refused")).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()

		cs := newTestChatServer(t, db, su)

		recipientClient := &Client{user: recipient, send: make(chan any, 1)}
		cs.addClient(recipientClient)

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		cs.deliverMessage(senderClient, &ClientEvent{Recipient: recipient.Id, Text: "hello"})

		select {
		case msg := <-recipientClient.send:
			t.Errorf("expected no push after failed store write, got %v", msg)
		default:
		}
		su.AssertNotCalled(t, "Incr", "NumMessagesSent")
	})

	t.Run("stores attachment and persists its reference", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", database.CreateMessageParams{
			SenderId:    sender.Id,
			RecipientId: recipient.Id,
			File:        "abc123.txt",
		}).Return(database.Message{
			Id:          12,
			SenderId:    sender.Id,
			RecipientId: recipient.Id,
			File:        "abc123.txt",
			CreatedAt:   createdAt,
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumMessagesSent").Once()

		cs := newTestChatServer(t, db, su)

		fs := &mockFileStore{}
		defer fs.AssertExpectations(t)
		fs.On("Store", []byte("hello"), "greeting.txt").Return("abc123.txt", nil).Once()
		cs.files = fs

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		cs.deliverMessage(senderClient, &ClientEvent{
			Recipient: recipient.Id,
			File: &FileUpload{
				Name: "greeting.txt",
				Data: "data:text/plain;base64,aGVsbG8=",
			},
		})
	})

	t.Run("drops message when attachment store fails", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)

		fs := &mockFileStore{}
		defer fs.AssertExpectations(t)
		fs.On("Store", mock.Anything, mock.Anything).Return("", errors.New("disk full")).Once()
		cs.files = fs

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		cs.deliverMessage(senderClient, &ClientEvent{
			Recipient: recipient.Id,
			File:      &FileUpload{Name: "greeting.txt", Data: "aGVsbG8="},
		})

		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("drops frames with no recipient or no content", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		senderClient := &Client{user: sender, send: make(chan any, 1)}

		cs.deliverMessage(senderClient, &ClientEvent{Recipient: 0, Text: "hello"})
		cs.deliverMessage(senderClient, &ClientEvent{Recipient: recipient.Id})
	})
}

func Test_relayTyping(t *testing.T) {
	sender := types.User{Id: 1, Username: "alice"}
	recipient := types.User{Id: 2, Username: "bob"}

	t.Run("relays to each recipient connection", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Twice()

		cs := newTestChatServer(t, db, su)

		conn1 := &Client{user: recipient, send: make(chan any, 1)}
		conn2 := &Client{user: recipient, send: make(chan any, 1)}
		cs.addClient(conn1)
		cs.addClient(conn2)

		senderClient := &Client{user: sender, send: make(chan any, 1)}
		cs.relayTyping(senderClient, recipient.Id, true)

		for _, rc := range []*Client{conn1, conn2} {
			select {
			case msg := <-rc.send:
				evt, ok := msg.(*TypingEvent)
				assert.True(t, ok, "expected a typing event")
				assert.True(t, evt.Typing)
				assert.Equal(t, sender.Id, evt.Sender)
			default:
				t.Error("expected typing event to be queued")
			}
		}
	})

	t.Run("stop typing carries typing=false", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()

		cs := newTestChatServer(t, db, su)

		rc := &Client{user: recipient, send: make(chan any, 1)}
		cs.addClient(rc)

		cs.relayTyping(&Client{user: sender}, recipient.Id, false)

		select {
		case msg := <-rc.send:
			evt, ok := msg.(*TypingEvent)
			assert.True(t, ok, "expected a typing event")
			assert.False(t, evt.Typing)
		default:
			t.Error("expected typing event to be queued")
		}
	})

	t.Run("offline recipient means the signal vanishes", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.relayTyping(&Client{user: sender}, recipient.Id, true)
	})

	t.Run("drops signal without a recipient", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.relayTyping(&Client{user: sender}, 0, true)
	})
}

func Test_openChat(t *testing.T) {
	viewer := types.User{Id: 1, Username: "alice"}
	peer := types.User{Id: 2, Username: "bob"}

	t.Run("flips unread and notifies online peer", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", peer.Id, viewer.Id).Return(int64(3), nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()

		cs := newTestChatServer(t, db, su)

		peerClient := &Client{user: peer, send: make(chan any, 1)}
		cs.addClient(peerClient)

		cs.openChat(&Client{user: viewer}, peer.Id)

		select {
		case msg := <-peerClient.send:
			evt, ok := msg.(*ReadReceiptEvent)
			assert.True(t, ok, "expected a read receipt event")
			assert.True(t, evt.MessagesRead)
			assert.Equal(t, viewer.Id, evt.Sender)
		default:
			t.Error("expected read receipt to be queued to peer")
		}
	})

	t.Run("notifies even when nothing was unread", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", peer.Id, viewer.Id).Return(int64(0), nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()

		cs := newTestChatServer(t, db, su)

		peerClient := &Client{user: peer, send: make(chan any, 1)}
		cs.addClient(peerClient)

		cs.openChat(&Client{user: viewer}, peer.Id)

		select {
		case <-peerClient.send:
		default:
			t.Error("expected read receipt to be queued to peer")
		}
	})

	t.Run("offline peer gets no deferred notification", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", peer.Id, viewer.Id).Return(int64(2), nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.openChat(&Client{user: viewer}, peer.Id)
	})

	t.Run("no notification when the flip fails", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", peer.Id, viewer.Id).
			Return(int64(0), errors.New("connection refused")).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumActiveConnections").Once()

		cs := newTestChatServer(t, db, su)

		peerClient := &Client{user: peer, send: make(chan any, 1)}
		cs.addClient(peerClient)

		cs.openChat(&Client{user: viewer}, peer.Id)

		select {
		case msg := <-peerClient.send:
			t.Errorf("expected no read receipt after failed flip, got %v", msg)
		default:
		}
	})

	t.Run("drops openChat without a recipient", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.openChat(&Client{user: viewer}, 0)
	})
}

func Test_route(t *testing.T) {
	sender := types.User{Id: 1, Username: "alice"}

	t.Run("dispatches control events", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", 2, sender.Id).Return(int64(0), nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.route(&Client{user: sender}, &ClientEvent{Event: eventOpenChat, Recipient: 2})
	})

	t.Run("frames without an event name are chat messages", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.Anything).Return(database.Message{
			Id:          1,
			SenderId:    sender.Id,
			RecipientId: 2,
			Text:        "hi",
			CreatedAt:   time.Now(),
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumMessagesSent").Once()

		cs := newTestChatServer(t, db, su)
		cs.route(&Client{user: sender}, &ClientEvent{Recipient: 2, Text: "hi"})
	})

	t.Run("drops unknown events", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.route(&Client{user: sender}, &ClientEvent{Event: "shrug", Recipient: 2})
	})
}
