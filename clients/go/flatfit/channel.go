package flatfit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionState is the lifecycle state of a Channel.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateLoadingBacklog
	StateConnecting
	StateLive
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingBacklog:
		return "loading-backlog"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("flatfit: channel already opened")
	// ErrEmptyMessage is returned for a send with no content after trimming.
	ErrEmptyMessage = errors.New("flatfit: empty message")
	// ErrChannelNotReady is returned for a send while the transport is not
	// connected. Not fatal; the user may retry once the channel is live.
	ErrChannelNotReady = errors.New("flatfit: channel not connected")
)

// DefaultReconnectDelay is the fixed interval between transport reconnect
// attempts. Deliberately not exponential: the transport retries on an
// unconditional fixed delay until Close.
const DefaultReconnectDelay = 5 * time.Second

// Client-side mirror of the realtime wire protocol.
const (
	frameSubscribe = "subscribe"
	frameSend      = "send"
	frameMessage   = "message"

	destReadReceipts = "queue.read-receipts"
	destPersonal     = "user-queue.messages"
	destChatSend     = "app.chat.send"
)

type frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type sendPayload struct {
	ChatRoomID  int64  `json:"chatRoomId"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

func roomTopic(roomID int64) string {
	return fmt.Sprintf("topic.chat.room.%d", roomID)
}

// Channel owns one room's live conversation: backlog load, the push
// subscription, reconciliation of incoming events into the ordered message
// view, outbound send and read-receipt state. One Channel per active room;
// the rendering layer only reads the view via Messages and State.
type Channel struct {
	// ReconnectDelay is the fixed transport retry interval. Defaults to
	// DefaultReconnectDelay; set before Open.
	ReconnectDelay time.Duration
	// Dialer dials the websocket. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Log receives transport and reconciliation diagnostics.
	Log zerolog.Logger
	// OnUpdate, when set, is invoked after every change to the message view
	// or connection state. It is never invoked after Close returns, and it
	// must not call Close itself.
	OnUpdate func()

	client *Client
	roomID int64

	mu          sync.Mutex
	state       ConnectionState
	messages    []ChatMessage
	conn        *websocket.Conn
	currentUser *User

	writeMu sync.Mutex
	// cbMu serializes OnUpdate invocations; Close takes it to wait out an
	// in-flight callback before returning.
	cbMu sync.Mutex
	done chan struct{}
}

// NewChannel creates a channel for an already-resolved room. The channel
// starts idle; call Open to load the backlog and go live.
func NewChannel(client *Client, roomID int64) *Channel {
	return &Channel{
		ReconnectDelay: DefaultReconnectDelay,
		Dialer:         websocket.DefaultDialer,
		Log:            zerolog.Nop(),
		client:         client,
		roomID:         roomID,
		state:          StateIdle,
		done:           make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a snapshot of the ordered message view: unique by id,
// ascending by creation time.
func (c *Channel) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Open loads the room's backlog, replaces the local view with it sorted
// ascending by creation time, acknowledges any unread messages, then brings
// up the live subscription in the background.
//
// A backlog fetch failure comes back as *BacklogError, but the channel
// still proceeds to connect live with an empty view. A transport failure
// never fails Open: the reconnect loop keeps retrying until Close.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.state = StateLoadingBacklog
	c.currentUser = c.client.Session.CurrentUser()
	c.mu.Unlock()
	c.notify()

	msgs, fetchErr := c.client.Messages(ctx, c.roomID)

	c.mu.Lock()
	if c.state == StateClosed {
		// Closed while the fetch was in flight; discard the late response.
		c.mu.Unlock()
		return nil
	}
	if fetchErr == nil {
		c.messages = msgs
	}
	unread := c.hasUnreadLocked()
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify()

	if unread {
		// The recipient viewed the backlog, so unread-to-me becomes read.
		go c.markRead()
	}

	go c.run()

	if fetchErr != nil {
		return &BacklogError{Err: fetchErr}
	}
	return nil
}

// hasUnreadLocked reports whether any message from the counterpart is still
// SENT. With an unknown current user no message is attributed to a
// counterpart, so nothing is considered unread.
func (c *Channel) hasUnreadLocked() bool {
	if c.currentUser == nil {
		return false
	}
	for i := range c.messages {
		if c.messages[i].SenderID != c.currentUser.ID && c.messages[i].Status == StatusSent {
			return true
		}
	}
	return false
}

// run owns the transport: dial, subscribe, pump events, and on loss retry
// on the fixed delay until Close.
func (c *Channel) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			c.Log.Warn().Err(err).Int64("room", c.roomID).Msg("transport connect failed")
			if !c.enterReconnecting() || !c.sleepReconnect() {
				return
			}
			continue
		}

		if err := c.subscribe(conn); err != nil {
			c.Log.Warn().Err(err).Int64("room", c.roomID).Msg("subscribe failed")
			conn.Close()
			if !c.enterReconnecting() || !c.sleepReconnect() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = StateLive
		c.mu.Unlock()
		c.notify()
		c.Log.Debug().Int64("room", c.roomID).Msg("channel live")

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.state == StateClosed
		if !closed {
			c.state = StateReconnecting
		}
		c.mu.Unlock()
		if closed {
			return
		}
		c.notify()
		if !c.sleepReconnect() {
			return
		}
	}
}

func (c *Channel) enterReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateReconnecting
	return true
}

func (c *Channel) sleepReconnect() bool {
	select {
	case <-c.done:
		return false
	case <-time.After(c.ReconnectDelay):
		return true
	}
}

// dial connects the websocket. The bearer credential is read from the
// session at connect time, so a reconnect picks up whatever credential is
// current.
func (c *Channel) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.client.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	if token := c.client.Session.BearerToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.Dial(u.String(), header)
	return conn, err
}

// subscribe attaches the three feeds. Re-run identically on every
// (re)connect.
func (c *Channel) subscribe(conn *websocket.Conn) error {
	for _, dest := range []string{roomTopic(c.roomID), destReadReceipts, destPersonal} {
		c.writeMu.Lock()
		err := conn.WriteJSON(frame{Type: frameSubscribe, Destination: dest})
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// readLoop pumps feed events until the connection drops. It is the sole
// reader, so reconciliation handlers never run concurrently with each
// other.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				c.Log.Debug().Err(err).Int64("room", c.roomID).Msg("transport read ended")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.Log.Debug().Err(err).Msg("malformed frame")
			continue
		}
		if f.Type != frameMessage {
			continue
		}

		switch f.Destination {
		case roomTopic(c.roomID):
			var msg ChatMessage
			if err := json.Unmarshal(f.Payload, &msg); err != nil || msg.ID == "" {
				c.Log.Debug().Err(err).Msg("malformed room feed payload")
				continue
			}
			c.handleRoomMessage(msg)

		case destReadReceipts:
			var receipts []ChatMessage
			if err := json.Unmarshal(f.Payload, &receipts); err != nil {
				c.Log.Debug().Err(err).Msg("malformed read receipt payload")
				continue
			}
			c.handleReadReceipts(receipts)

		case destPersonal:
			// Cross-room awareness only; does not touch the message view.
			c.Log.Debug().RawJSON("notification", f.Payload).Msg("personal feed event")
		}
	}
}

// handleRoomMessage reconciles one room feed event: a known id is replaced
// in place so a status update never reorders the view, an unseen id is
// appended. Idempotent under redelivery.
func (c *Channel) handleRoomMessage(msg ChatMessage) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	replaced := false
	for i := range c.messages {
		if c.messages[i].ID == msg.ID {
			// READ dominates: a stale SENT payload never reverts status.
			if c.messages[i].Status == StatusRead && msg.Status == StatusSent {
				msg.Status = StatusRead
			}
			c.messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		c.messages = append(c.messages, msg)
	}

	fromCounterpart := c.currentUser != nil && msg.SenderID != c.currentUser.ID
	c.mu.Unlock()
	c.notify()

	if fromCounterpart {
		// The user is viewing the conversation, so an arriving message is
		// read on arrival.
		go c.markRead()
	}
}

// handleReadReceipts applies a receipt set: every local message named in it
// becomes READ. Ids not present locally are ignored.
func (c *Channel) handleReadReceipts(receipts []ChatMessage) {
	ids := make(map[string]struct{}, len(receipts))
	for i := range receipts {
		ids[receipts[i].ID] = struct{}{}
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	for i := range c.messages {
		if _, ok := ids[c.messages[i].ID]; ok {
			c.messages[i].Status = StatusRead
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Send publishes a message to the room. The created ChatMessage comes back
// asynchronously on the room feed, not as a direct response. The text must
// be non-empty after trimming and the channel must be live; a failed
// publish is not retried.
func (c *Channel) Send(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	conn := c.conn
	live := c.state == StateLive
	c.mu.Unlock()
	if !live || conn == nil {
		// The transport loop is already reconnecting; nothing to nudge.
		return ErrChannelNotReady
	}

	payload, err := json.Marshal(sendPayload{
		ChatRoomID:  c.roomID,
		Content:     trimmed,
		ContentType: ContentTypeText,
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(frame{Type: frameSend, Destination: destChatSend, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("flatfit: publish failed: %w", err)
	}
	return nil
}

// NotifyFocus acknowledges unread counterpart messages when the host view
// regains foreground focus.
func (c *Channel) NotifyFocus() {
	c.mu.Lock()
	unread := c.state != StateClosed && c.hasUnreadLocked()
	c.mu.Unlock()
	if unread {
		go c.markRead()
	}
}

// markRead fires the read acknowledgment. Best-effort: failures are logged,
// never surfaced.
func (c *Channel) markRead() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.MarkRead(ctx, c.roomID); err != nil {
		c.Log.Warn().Err(err).Int64("room", c.roomID).Msg("mark read failed")
	}
}

// Close tears the channel down: unsubscribes by dropping the connection and
// stops the reconnect loop. Safe to call multiple times and from any state;
// no callbacks fire after it returns.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}

	// An OnUpdate that passed its closed check before the state flip above
	// may still be running; taking cbMu waits it out so no callback fires
	// after return.
	c.cbMu.Lock()
	c.cbMu.Unlock()
}

// notify invokes OnUpdate unless the channel has closed. The closed check
// happens under cbMu so Close can wait for an in-flight callback.
func (c *Channel) notify() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.mu.Lock()
	fn := c.OnUpdate
	closed := c.state == StateClosed
	c.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}
