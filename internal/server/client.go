package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-dmchat/internal/stats"
	"github.com/npezzotti/go-dmchat/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait = 10 * time.Second
	// probeInterval and ackTimeout drive the two-phase liveness protocol:
	// a ping is sent every probeInterval, and the peer then has ackTimeout
	// to answer with a pong before it is declared dead. Worst-case
	// detection latency is probeInterval + ackTimeout.
	defaultProbeInterval = 5 * time.Second
	defaultAckTimeout    = 1 * time.Second
	// attachments arrive base64-inlined in the frame
	maxMessageSize = 10 << 20
	sendQueueSize  = 256
	// inbound frame budget per connection
	frameRate  = rate.Limit(25)
	frameBurst = 50
)

type Client struct {
	conn          *websocket.Conn
	chatServer    *ChatServer
	log           *log.Logger
	stats         stats.StatsProvider
	user          types.User
	send          chan any
	pong          chan struct{}
	stop          chan struct{}
	stopOnce      sync.Once
	limiter       *rate.Limiter
	probeInterval time.Duration
	ackTimeout    time.Duration
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger, su stats.StatsProvider) *Client {
	return &Client{
		conn:          conn,
		chatServer:    cs,
		log:           l,
		stats:         su,
		user:          user,
		send:          make(chan any, sendQueueSize),
		pong:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		limiter:       rate.NewLimiter(frameRate, frameBurst),
		probeInterval: defaultProbeInterval,
		ackTimeout:    defaultAckTimeout,
	}
}

// Write owns the connection's outbound side and its liveness monitor. The
// monitor is a two-state machine: alive until a probe is sent, then
// awaiting-pong until the ack timer fires or a pong arrives.
func (c *Client) Write() {
	ticker := time.NewTicker(c.probeInterval)
	ackTimer := time.NewTimer(c.ackTimeout)
	if !ackTimer.Stop() {
		<-ackTimer.C
	}
	awaitingPong := false

	defer func() {
		ticker.Stop()
		ackTimer.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-ticker.C:
			if awaitingPong {
				// probe already in flight
				continue
			}

			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}

			awaitingPong = true
			ackTimer.Reset(c.ackTimeout)
		case <-c.pong:
			if awaitingPong {
				awaitingPong = false
				if !ackTimer.Stop() {
					select {
					case <-ackTimer.C:
					default:
					}
				}
			}
		case <-ackTimer.C:
			c.log.Printf("no pong from %q within %s, terminating connection", c.user.Username, c.ackTimeout)
			c.stats.Incr("NumLivenessEvictions")
			return
		case <-c.stop:
			return
		}
	}
}

// Read owns the connection's inbound side. Frames are handled in strict
// arrival order; malformed or over-budget frames are dropped without
// closing the connection.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(appData string) error {
		select {
		case c.pong <- struct{}{}:
		default:
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.log.Printf("dropping frame from %q: rate limit exceeded", c.user.Username)
			continue
		}

		evt, err := decodeClientEvent(raw)
		if err != nil {
			c.log.Println("dropping malformed frame:", err)
			continue
		}

		c.chatServer.route(c, evt)
	}
}

func (c *Client) queueMessage(msg any) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue full for %q, dropping message", c.user.Username)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.stopClient()
}
