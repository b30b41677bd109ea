// Package flatfit provides a client for the FlatFit chat API: room
// resolution, message backlog, read receipts and the realtime channel.
package flatfit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// ErrNoToken is returned when an authenticated call is made without a
// bearer credential in the session.
var ErrNoToken = errors.New("flatfit: no bearer token in session")

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flatfit: API error %d: %s", e.Status, e.Message)
}

// RoomResolutionError reports a failed create-or-get room resolution. The
// caller must not open a channel after it.
type RoomResolutionError struct {
	Err error
}

func (e *RoomResolutionError) Error() string {
	return "flatfit: room resolution failed: " + e.Err.Error()
}

func (e *RoomResolutionError) Unwrap() error { return e.Err }

// BacklogError reports a failed history fetch. The channel still proceeds
// to connect live when Open returns one.
type BacklogError struct {
	Err error
}

func (e *BacklogError) Error() string {
	return "flatfit: backlog load failed: " + e.Err.Error()
}

func (e *BacklogError) Unwrap() error { return e.Err }

// Message status values.
const (
	StatusSent = "SENT"
	StatusRead = "READ"
)

// ContentTypeText is the content type for plain text messages.
const ContentTypeText = "TEXT"

// ChatRoom pairs two users over one flat listing.
type ChatRoom struct {
	ID               int64     `json:"id"`
	FlatID           int64     `json:"flatId"`
	OwnerID          int64     `json:"ownerId"`
	InterestedUserID int64     `json:"interestedUserId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ChatMessage is a single message within a room.
type ChatMessage struct {
	ID          string    `json:"id"`
	ChatRoomID  int64     `json:"chatRoomId"`
	SenderID    int64     `json:"senderId"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomSummary is a room annotated for the conversation-list view.
type RoomSummary struct {
	ID               int64  `json:"id"`
	FlatID           int64  `json:"flatId"`
	OwnerID          int64  `json:"ownerId"`
	InterestedUserID int64  `json:"interestedUserId"`
	Address          string `json:"address"`
	ChatWithUserName string `json:"chatWithUserName"`
}

// ResolvedRoom is a ChatRoom plus the derived counterpart relative to the
// session's current user. OtherUserID is nil when the current user's
// identity is unknown rather than guessed.
type ResolvedRoom struct {
	ChatRoom
	OtherUserID *int64
}

// Client is a FlatFit chat API client.
type Client struct {
	BaseURL    string
	Session    Session
	HTTPClient *http.Client
}

// NewClient creates a new client for the given server base URL.
func NewClient(baseURL string, session Session) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Session:    session,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request. When authed is set, the session's
// bearer token is attached; a missing token fails with ErrNoToken before
// any network call.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if authed {
		token := c.Session.BearerToken()
		if token == "" {
			return nil, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

// LoginResponse is the response from a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Login authenticates and, when the session can store credentials,
// persists the returned token and identity.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/auth/login", body, false)
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	if store, ok := c.Session.(CredentialStore); ok {
		if err := store.SetCredentials(resp.Token, User{ID: resp.ID, Email: resp.Email, Name: resp.Name}); err != nil {
			return nil, err
		}
	}

	return &resp, nil
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	body, _ := json.Marshal(req)
	_, err := c.doRequest(ctx, http.MethodPost, "/auth/register", body, false)
	return err
}

// ResolveRoom obtains or creates the chat room for a flat, optionally with
// an explicit counterpart user. The server is the sole authority on room
// identity; re-resolving the same pair returns the same room. A nil
// counterpart asks the server to resolve the caller's existing room for the
// flat, or create one with the caller as interested user.
//
// Failures come back as *RoomResolutionError; no retry is attempted and the
// caller must not open a channel after one.
func (c *Client) ResolveRoom(ctx context.Context, flatID int64, counterpartID *int64) (*ResolvedRoom, error) {
	counterpart := "null"
	if counterpartID != nil {
		counterpart = fmt.Sprintf("%d", *counterpartID)
	}

	path := fmt.Sprintf("/api/chat/room/%d/%s", flatID, counterpart)
	respBody, err := c.doRequest(ctx, http.MethodPost, path, nil, true)
	if err != nil {
		return nil, &RoomResolutionError{Err: err}
	}

	var room ChatRoom
	if err := json.Unmarshal(respBody, &room); err != nil {
		return nil, &RoomResolutionError{Err: err}
	}

	resolved := &ResolvedRoom{ChatRoom: room}
	if user := c.Session.CurrentUser(); user != nil {
		other := room.InterestedUserID
		if room.OwnerID != user.ID {
			other = room.OwnerID
		}
		resolved.OtherUserID = &other
	}

	return resolved, nil
}

// Messages fetches the full message backlog for a room, sorted ascending by
// creation time. Server order is not trusted.
func (c *Client) Messages(ctx context.Context, roomID int64) ([]ChatMessage, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/chat/messages/%d", roomID), nil, true)
	if err != nil {
		return nil, err
	}

	var msgs []ChatMessage
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	return msgs, nil
}

// MarkRead tells the server every unread message in the room not sent by
// the caller is now read. Idempotent; safe to call with nothing unread.
func (c *Client) MarkRead(ctx context.Context, roomID int64) error {
	_, err := c.doRequest(ctx, http.MethodPatch, fmt.Sprintf("/api/chat/messages/%d/read", roomID), nil, true)
	return err
}

// Flat is a flat listing.
type Flat struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	Address   string    `json:"address"`
	Rent      int64     `json:"rent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Flats lists flat postings.
func (c *Client) Flats(ctx context.Context, limit, offset int) ([]Flat, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/flats?limit=%d&offset=%d", limit, offset), nil, true)
	if err != nil {
		return nil, err
	}

	var flats []Flat
	if err := json.Unmarshal(respBody, &flats); err != nil {
		return nil, err
	}
	return flats, nil
}

// CreateFlat posts a new flat with the caller as owner.
func (c *Client) CreateFlat(ctx context.Context, address string, rent int64) (*Flat, error) {
	body, _ := json.Marshal(map[string]interface{}{"address": address, "rent": rent})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/flats", body, true)
	if err != nil {
		return nil, err
	}

	var flat Flat
	if err := json.Unmarshal(respBody, &flat); err != nil {
		return nil, err
	}
	return &flat, nil
}

// Rooms lists the caller's conversations for the room-list view.
func (c *Client) Rooms(ctx context.Context) ([]RoomSummary, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/chat/getAllRooms", nil, true)
	if err != nil {
		return nil, err
	}

	var rooms []RoomSummary
	if err := json.Unmarshal(respBody, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}
