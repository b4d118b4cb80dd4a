package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arenabook/chatcore/internal/msgstore"
)

// Room is the server's view of a conversation.
type Room struct {
	ID               string `json:"id"`
	CounterpartyKind string `json:"counterparty_kind"`
	CounterpartyID   string `json:"counterparty_id"`
	ContextID        string `json:"context_id"`
}

// RoomAPI is the room lifecycle contract of the booking platform backend.
type RoomAPI interface {
	// CreateRoom provisions a room for the counterparty/context pair.
	CreateRoom(ctx context.Context, counterpartyKind, counterpartyID, contextID string) (*Room, error)
	// GetRoom returns the room and its authoritative message history.
	GetRoom(ctx context.Context, roomID string) (*Room, []msgstore.Envelope, error)
	// MarkRead acknowledges everything in the room as read by this user.
	MarkRead(ctx context.Context, roomID string) error
}

// HTTPRoomAPI implements RoomAPI against the platform's JSON REST endpoints.
type HTTPRoomAPI struct {
	baseURL    string
	credential string
	client     *http.Client
}

// NewHTTPRoomAPI creates a room API client with a bounded request timeout.
func NewHTTPRoomAPI(baseURL, credential string, timeout time.Duration) *HTTPRoomAPI {
	return &HTTPRoomAPI{
		baseURL:    baseURL,
		credential: credential,
		client:     &http.Client{Timeout: timeout},
	}
}

type createRoomRequest struct {
	CounterpartyKind string `json:"counterparty_kind"`
	CounterpartyID   string `json:"counterparty_id"`
	ContextID        string `json:"context_id"`
}

type getRoomResponse struct {
	Room     Room                `json:"room"`
	Messages []msgstore.Envelope `json:"messages"`
}

func (a *HTTPRoomAPI) CreateRoom(ctx context.Context, counterpartyKind, counterpartyID, contextID string) (*Room, error) {
	body, err := json.Marshal(createRoomRequest{
		CounterpartyKind: counterpartyKind,
		CounterpartyID:   counterpartyID,
		ContextID:        contextID,
	})
	if err != nil {
		return nil, err
	}
	var room Room
	if err := a.do(ctx, http.MethodPost, "/rooms", bytes.NewReader(body), &room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

func (a *HTTPRoomAPI) GetRoom(ctx context.Context, roomID string) (*Room, []msgstore.Envelope, error) {
	var resp getRoomResponse
	if err := a.do(ctx, http.MethodGet, "/rooms/"+roomID, nil, &resp); err != nil {
		return nil, nil, fmt.Errorf("get room: %w", err)
	}
	return &resp.Room, resp.Messages, nil
}

func (a *HTTPRoomAPI) MarkRead(ctx context.Context, roomID string) error {
	if err := a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (a *HTTPRoomAPI) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.credential != "" {
		req.Header.Set("Authorization", "Bearer "+a.credential)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
