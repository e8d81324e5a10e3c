package server

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/npezzotti/go-dmchat/internal/database"
	"github.com/npezzotti/go-dmchat/internal/stats"
	"github.com/npezzotti/go-dmchat/internal/types"
)

// AttachmentStore ingests an attachment's raw bytes and returns a stable
// filename reference for the persisted record.
type AttachmentStore interface {
	Store(data []byte, originalName string) (string, error)
}

// ChatServer is the connection registry and event fan-out hub. The clients
// and userMap structures are the only state mutated from multiple
// goroutines; admit/remove flow through the Run loop so that every
// membership change is paired with exactly one presence broadcast.
type ChatServer struct {
	log            *log.Logger
	db             database.Repository
	files          AttachmentStore
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.RWMutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, files AttachmentStore, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		files:          files,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	su.RegisterMetric("NumActiveConnections")
	su.RegisterMetric("NumMessagesSent")
	su.RegisterMetric("NumPresenceBroadcasts")
	su.RegisterMetric("NumLivenessEvictions")

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
			cs.broadcastOnline()
		case client := <-cs.deRegisterChan:
			if cs.removeClient(client) {
				cs.log.Printf("removed connection from %q", client.user.Username)
				cs.broadcastOnline()
			}
		case <-cs.stop:
			cs.log.Println("stopping clients")
			for _, c := range cs.allClients() {
				c.stopClient()
			}

			close(cs.done)
			return
		}
	}
}

// RegisterClient admits a connection whose identity has already been
// resolved. The admission is handled by the Run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}

	cs.stats.Incr("NumActiveConnections")
}

// removeClient deregisters a connection. It is idempotent; the return value
// reports whether the connection was still registered, so callers can pair
// each real removal with exactly one presence broadcast.
func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}

	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}

	cs.stats.Decr("NumActiveConnections")
	return true
}

// getClients returns every live connection for a user. An empty result is
// not an error; it means the user is offline.
func (cs *ChatServer) getClients(userId int) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.userMap[userId]))
	for c := range cs.userMap[userId] {
		clients = append(clients, c)
	}

	return clients
}

func (cs *ChatServer) allClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}

	return clients
}

// snapshotOnline projects the current registry membership, one entry per
// connection. Multiple devices of the same user yield duplicate entries.
func (cs *ChatServer) snapshotOnline() []types.OnlineUser {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	online := make([]types.OnlineUser, 0, len(cs.clients))
	for c := range cs.clients {
		online = append(online, types.OnlineUser{
			UserId:   c.user.Id,
			Username: c.user.Username,
		})
	}

	sort.Slice(online, func(i, j int) bool {
		if online[i].UserId != online[j].UserId {
			return online[i].UserId < online[j].UserId
		}
		return online[i].Username < online[j].Username
	})

	return online
}

// broadcastOnline pushes the full online set to every admitted connection.
// Full-state rather than a delta: clients never need to reconcile.
func (cs *ChatServer) broadcastOnline() {
	evt := &PresenceEvent{Online: cs.snapshotOnline()}

	for _, client := range cs.allClients() {
		client.queueMessage(evt)
	}

	cs.stats.Incr("NumPresenceBroadcasts")
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
