package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/4k-champ/cozy-flat-match/internal/auth"
	"github.com/4k-champ/cozy-flat-match/internal/models"
	"github.com/4k-champ/cozy-flat-match/internal/ws"
)

// routerData is a minimal in-memory DataStore for wiring tests.
type routerData struct {
	rooms map[int64]*models.ChatRoom
}

func (d *routerData) Close()                         {}
func (d *routerData) Ping(ctx context.Context) error { return nil }

func (d *routerData) CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	return nil, nil
}
func (d *routerData) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, nil
}
func (d *routerData) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return nil, nil
}
func (d *routerData) CreateFlat(ctx context.Context, ownerID int64, address string, rent int64) (*models.Flat, error) {
	return nil, nil
}
func (d *routerData) GetFlat(ctx context.Context, id int64) (*models.Flat, error) {
	return nil, nil
}
func (d *routerData) ListFlats(ctx context.Context, limit, offset int) ([]models.Flat, error) {
	return nil, nil
}
func (d *routerData) GetOrCreateRoom(ctx context.Context, flatID, ownerID, interestedUserID int64) (*models.ChatRoom, bool, error) {
	return nil, false, nil
}
func (d *routerData) GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error) {
	return d.rooms[id], nil
}
func (d *routerData) FindRoomForUser(ctx context.Context, flatID, userID int64) (*models.ChatRoom, error) {
	return nil, nil
}
func (d *routerData) ListRoomsForUser(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	return nil, nil
}

// routerMessages is a minimal in-memory MessageStore.
type routerMessages struct {
	mu   sync.Mutex
	next int
}

func (m *routerMessages) Close() error                   { return nil }
func (m *routerMessages) Ping(ctx context.Context) error { return nil }

func (m *routerMessages) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	msg.ID = fmt.Sprintf("m%d", m.next)
	msg.Status = models.StatusSent
	msg.CreatedAt = time.Now().UTC()
	return nil
}

func (m *routerMessages) GetRoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	return nil, nil
}

func (m *routerMessages) MarkRead(ctx context.Context, roomID, readerID int64) ([]models.ChatMessage, error) {
	return nil, nil
}

// TestRouterWebsocketUpgrade dials /ws through the fully assembled router,
// so the whole middleware chain sits in front of the upgrade. A message
// sent on the socket must come back on the room feed.
func TestRouterWebsocketUpgrade(t *testing.T) {
	data := &routerData{rooms: map[int64]*models.ChatRoom{
		7: {ID: 7, FlatID: 5, OwnerID: 1, InterestedUserID: 2},
	}}
	messages := &routerMessages{}
	jwtm := auth.NewJWTManager("router-test-secret", time.Hour)
	realtime := ws.NewServer(ws.NewHub(), data, messages, jwtm, nil, 60, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), data, messages, jwtm, realtime))
	defer srv.Close()

	token, _, err := jwtm.GenerateToken(1, "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket upgrade through the assembled router failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSubscribe, Destination: ws.RoomTopic(7)}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload, _ := json.Marshal(ws.SendPayload{ChatRoomID: 7, Content: "anyone home?"})
	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSend, Destination: ws.DestChatSend, Payload: payload}); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ws.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read room feed: %v", err)
	}
	if frame.Type != ws.TypeMessage || frame.Destination != ws.RoomTopic(7) {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "anyone home?" || msg.SenderID != 1 || msg.Status != models.StatusSent {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRouterWebsocketRejectsMissingToken(t *testing.T) {
	data := &routerData{rooms: map[int64]*models.ChatRoom{}}
	messages := &routerMessages{}
	jwtm := auth.NewJWTManager("router-test-secret", time.Hour)
	realtime := ws.NewServer(ws.NewHub(), data, messages, jwtm, nil, 60, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), data, messages, jwtm, realtime))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
