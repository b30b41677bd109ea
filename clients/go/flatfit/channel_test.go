package flatfit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// chatServer is a fake backend: the backlog and read endpoints plus a
// websocket accepting subscriptions and sends, with a handle to push feed
// events to the connected channel.
type chatServer struct {
	srv *httptest.Server

	mu            sync.Mutex
	backlog       []ChatMessage
	backlogStatus int
	backlogGate   chan struct{}

	backlogHits int32
	markReads   int32

	conns chan *serverConn
}

type serverConn struct {
	conn  *websocket.Conn
	subs  chan string
	sends chan sendPayload
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	s := &chatServer{conns: make(chan *serverConn, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/messages/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPatch {
			atomic.AddInt32(&s.markReads, 1)
			w.Write([]byte(`{"updated":1}`))
			return
		}
		atomic.AddInt32(&s.backlogHits, 1)
		s.mu.Lock()
		status := s.backlogStatus
		gate := s.backlogGate
		msgs := append([]ChatMessage(nil), s.backlog...)
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"backlog unavailable"}`))
			return
		}
		json.NewEncoder(w).Encode(msgs)
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn, subs: make(chan string, 8), sends: make(chan sendPayload, 8)}
		s.conns <- sc
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case frameSubscribe:
				sc.subs <- f.Destination
			case frameSend:
				var p sendPayload
				if err := json.Unmarshal(f.Payload, &p); err == nil {
					sc.sends <- p
				}
			}
		}
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chatServer) setBacklog(msgs ...ChatMessage) {
	s.mu.Lock()
	s.backlog = msgs
	s.mu.Unlock()
}

// accept waits for the channel's next websocket connection and drains its
// three subscribe frames.
func (s *chatServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-s.conns:
		seen := map[string]bool{}
		for i := 0; i < 3; i++ {
			select {
			case dest := <-sc.subs:
				seen[dest] = true
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for subscribe frame %d", i+1)
			}
		}
		if len(seen) != 3 || !seen[destReadReceipts] || !seen[destPersonal] {
			t.Fatalf("unexpected subscriptions: %v", seen)
		}
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket connection")
		return nil
	}
}

func (sc *serverConn) push(t *testing.T, dest string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := sc.conn.WriteJSON(frame{Type: frameMessage, Destination: dest, Payload: raw}); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestChannel(s *chatServer, roomID int64) *Channel {
	client := NewClient(s.srv.URL, &StaticSession{
		Token: "test-token",
		User:  &User{ID: 1, Email: "me@example.com", Name: "Me"},
	})
	ch := NewChannel(client, roomID)
	ch.ReconnectDelay = 20 * time.Millisecond
	return ch
}

func backlogMessage(id string, roomID, senderID int64, status string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:          id,
		ChatRoomID:  roomID,
		SenderID:    senderID,
		Content:     "hello " + id,
		ContentType: ContentTypeText,
		Status:      status,
		CreatedAt:   at,
	}
}

func TestChannelOpenLoadsBacklogAndGoesLive(t *testing.T) {
	s := newChatServer(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	s.setBacklog(
		backlogMessage("m2", 7, 2, StatusRead, base.Add(time.Second)),
		backlogMessage("m1", 7, 1, StatusRead, base),
	)

	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.accept(t)

	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	msgs := ch.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 backlog messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("backlog not in ascending creation order: %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if n := atomic.LoadInt32(&s.markReads); n != 0 {
		t.Fatalf("no unread backlog, but got %d read acknowledgments", n)
	}
}

func TestChannelOpenAcksUnreadBacklog(t *testing.T) {
	s := newChatServer(t)
	s.setBacklog(backlogMessage("m1", 7, 2, StatusSent, time.Now().UTC()))

	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.accept(t)

	waitFor(t, "unread backlog never acknowledged", func() bool {
		return atomic.LoadInt32(&s.markReads) >= 1
	})
}

func TestChannelOpenBacklogFailureStillConnects(t *testing.T) {
	s := newChatServer(t)
	s.backlogStatus = http.StatusInternalServerError

	ch := newTestChannel(s, 7)
	defer ch.Close()
	err := ch.Open(context.Background())
	var be *BacklogError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BacklogError, got %v", err)
	}
	s.accept(t)

	waitFor(t, "channel never went live after backlog failure", func() bool {
		return ch.State() == StateLive
	})
	if got := ch.Messages(); len(got) != 0 {
		t.Fatalf("expected empty view after backlog failure, got %d messages", len(got))
	}
}

func TestChannelOpenTwice(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.accept(t)
	if err := ch.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestChannelRoomFeedReconciliation(t *testing.T) {
	s := newChatServer(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	s.setBacklog(backlogMessage("m1", 7, 1, StatusSent, base))

	ch := newTestChannel(s, 7)
	defer ch.Close()
	var updates int32
	ch.OnUpdate = func() { atomic.AddInt32(&updates, 1) }
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	// Unseen id appends.
	sc.push(t, roomTopic(7), backlogMessage("m2", 7, 1, StatusSent, base.Add(time.Second)))
	waitFor(t, "new message never appended", func() bool { return len(ch.Messages()) == 2 })

	// Known id replaces in place without reordering.
	updated := backlogMessage("m1", 7, 1, StatusRead, base)
	sc.push(t, roomTopic(7), updated)
	waitFor(t, "status update never applied", func() bool {
		msgs := ch.Messages()
		return msgs[0].ID == "m1" && msgs[0].Status == StatusRead
	})

	// A stale SENT redelivery never reverts READ.
	sc.push(t, roomTopic(7), backlogMessage("m1", 7, 1, StatusSent, base))
	sc.push(t, roomTopic(7), backlogMessage("m3", 7, 1, StatusSent, base.Add(2*time.Second)))
	waitFor(t, "third message never arrived", func() bool { return len(ch.Messages()) == 3 })
	if msgs := ch.Messages(); msgs[0].Status != StatusRead {
		t.Fatalf("stale redelivery reverted READ to %s", msgs[0].Status)
	}
	if atomic.LoadInt32(&updates) == 0 {
		t.Fatal("OnUpdate never invoked")
	}
}

func TestChannelInboundCounterpartMessageIsAcked(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	sc.push(t, roomTopic(7), backlogMessage("m1", 7, 2, StatusSent, time.Now().UTC()))
	waitFor(t, "inbound counterpart message never acknowledged", func() bool {
		return atomic.LoadInt32(&s.markReads) >= 1
	})
}

func TestChannelReadReceipts(t *testing.T) {
	s := newChatServer(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	s.setBacklog(
		backlogMessage("m1", 7, 1, StatusSent, base),
		backlogMessage("m2", 7, 1, StatusSent, base.Add(time.Second)),
	)

	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	sc.push(t, destReadReceipts, []ChatMessage{
		backlogMessage("m2", 7, 1, StatusRead, base.Add(time.Second)),
		backlogMessage("unknown", 7, 1, StatusRead, base),
	})

	waitFor(t, "receipt never applied", func() bool {
		msgs := ch.Messages()
		return msgs[1].Status == StatusRead
	})
	if msgs := ch.Messages(); msgs[0].Status != StatusSent {
		t.Fatalf("receipt touched an unnamed message: %s", msgs[0].Status)
	}
	if len(ch.Messages()) != 2 {
		t.Fatal("unknown receipt id should not grow the view")
	}
}

func TestChannelSend(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)
	defer ch.Close()

	if err := ch.Send("hi"); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("send before open: expected ErrChannelNotReady, got %v", err)
	}

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	if err := ch.Send("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := ch.Send("  hello there  "); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case p := <-sc.sends:
		if p.ChatRoomID != 7 || p.Content != "hello there" || p.ContentType != ContentTypeText {
			t.Fatalf("unexpected publish payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish never reached the server")
	}
}

func TestChannelReconnectsOnFixedDelay(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	sc.conn.Close()
	waitFor(t, "channel never noticed the drop", func() bool {
		return ch.State() == StateReconnecting || ch.State() == StateLive
	})

	sc2 := s.accept(t)
	waitFor(t, "channel never recovered", func() bool { return ch.State() == StateLive })

	// The silent-gap tradeoff: a reconnect resubscribes but does not
	// refetch the backlog.
	if n := atomic.LoadInt32(&s.backlogHits); n != 1 {
		t.Fatalf("expected a single backlog fetch across reconnects, got %d", n)
	}

	sc2.push(t, roomTopic(7), backlogMessage("m1", 7, 1, StatusSent, time.Now().UTC()))
	waitFor(t, "resubscribed feed never delivered", func() bool { return len(ch.Messages()) == 1 })
}

func TestChannelNotifyFocus(t *testing.T) {
	s := newChatServer(t)
	s.setBacklog(backlogMessage("m1", 7, 2, StatusRead, time.Now().UTC()))

	ch := newTestChannel(s, 7)
	defer ch.Close()
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	ch.NotifyFocus()
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&s.markReads); n != 0 {
		t.Fatalf("focus with nothing unread acknowledged %d times", n)
	}

	sc.push(t, destReadReceipts, []ChatMessage{}) // no-op, keeps feed warm
	s.setBacklog()

	// Make a counterpart message unread locally without triggering the
	// arrival ack path: deliver it as if sent by us, then flip it.
	ch.mu.Lock()
	ch.messages = append(ch.messages, backlogMessage("m2", 7, 2, StatusSent, time.Now().UTC()))
	ch.mu.Unlock()

	ch.NotifyFocus()
	waitFor(t, "focus never acknowledged unread messages", func() bool {
		return atomic.LoadInt32(&s.markReads) >= 1
	})
}

func TestChannelClose(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	ch.Close()
	if ch.State() != StateClosed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	ch.Close() // idempotent

	if err := ch.Send("hi"); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("send after close: expected ErrChannelNotReady, got %v", err)
	}
}

func TestChannelCloseDiscardsLateBacklog(t *testing.T) {
	s := newChatServer(t)
	s.setBacklog(backlogMessage("m1", 7, 2, StatusSent, time.Now().UTC()))
	gate := make(chan struct{})
	s.mu.Lock()
	s.backlogGate = gate
	s.mu.Unlock()

	ch := newTestChannel(s, 7)

	openErr := make(chan error, 1)
	go func() { openErr <- ch.Open(context.Background()) }()

	waitFor(t, "backlog fetch never started", func() bool {
		return atomic.LoadInt32(&s.backlogHits) == 1
	})
	ch.Close()
	close(gate)

	select {
	case err := <-openErr:
		if err != nil {
			t.Fatalf("Open after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open never returned")
	}

	if ch.State() != StateClosed {
		t.Fatalf("expected closed, got %s", ch.State())
	}
	if got := ch.Messages(); len(got) != 0 {
		t.Fatalf("late backlog response leaked into the view: %d messages", len(got))
	}
	select {
	case <-s.conns:
		t.Fatal("closed channel still dialed the transport")
	case <-time.After(100 * time.Millisecond):
	}
	if n := atomic.LoadInt32(&s.markReads); n != 0 {
		t.Fatalf("closed channel acknowledged reads %d times", n)
	}
}

func TestChannelNoCallbackAfterClose(t *testing.T) {
	s := newChatServer(t)
	ch := newTestChannel(s, 7)

	var closed int32
	var late int32
	ch.OnUpdate = func() {
		if atomic.LoadInt32(&closed) == 1 {
			atomic.AddInt32(&late, 1)
		}
	}

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sc := s.accept(t)
	waitFor(t, "channel never went live", func() bool { return ch.State() == StateLive })

	// Flood the feed while closing; writes after the teardown just error.
	go func() {
		base := time.Now().UTC()
		for i := 0; i < 100; i++ {
			raw, _ := json.Marshal(backlogMessage(fmt.Sprintf("m%d", i), 7, 1, StatusSent, base))
			if err := sc.conn.WriteJSON(frame{Type: frameMessage, Destination: roomTopic(7), Payload: raw}); err != nil {
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	ch.Close()
	atomic.StoreInt32(&closed, 1)

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&late); n != 0 {
		t.Fatalf("OnUpdate fired %d times after Close returned", n)
	}
}
