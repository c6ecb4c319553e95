package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cafechat/pkg/cherrors"
	"cafechat/pkg/logger"
)

// Image is one attachment on a message.
type Image struct {
	ImageID          int64  `json:"imageId"`
	OriginalFileName string `json:"originalFileName"`
	ImageURL         string `json:"imageUrl"`
}

// HistoryMessage is one persisted message from the history endpoint.
type HistoryMessage struct {
	ChatID            int64   `json:"chatId"`
	RoomID            int64   `json:"roomId"`
	Message           string  `json:"message"`
	SenderNickname    string  `json:"senderNickname"`
	TimeLabel         string  `json:"timeLabel"`
	Mine              bool    `json:"mine"`
	MessageType       string  `json:"messageType"`
	CreatedAt         string  `json:"createdAt"`
	OthersUnreadUsers int     `json:"othersUnreadUsers"`
	Images            []Image `json:"images,omitempty"`
}

// HistoryPage is one descending page of persisted messages.
type HistoryPage struct {
	Content []HistoryMessage `json:"content"`
	HasNext bool             `json:"hasNext"`
}

// Participant is one roster entry from the participants endpoint.
type Participant struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Me       bool   `json:"me"`
}

// Client talks to the chat REST collaborators. All methods are safe for
// concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	log     *logger.Logger
}

func NewClient(baseURL string, token func() string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		token:   token,
		log:     log,
	}
}

// History fetches up to limit messages strictly older than beforeChatID,
// newest first. beforeChatID <= 0 requests the newest page.
func (c *Client) History(ctx context.Context, roomID string, beforeChatID int64, limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("descending", "true")
	if beforeChatID > 0 {
		q.Set("beforeChatId", strconv.FormatInt(beforeChatID, 10))
	}

	var envelope struct {
		Data HistoryPage `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/chats?"+q.Encode(), nil, &envelope)
	if err != nil {
		return HistoryPage{}, err
	}
	return envelope.Data, nil
}

// MarkRead records that the current user has read up to lastReadChatID.
func (c *Client) MarkRead(ctx context.Context, roomID string, lastReadChatID int64) error {
	body := map[string]int64{"lastReadChatId": lastReadChatID}
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read-status", body, nil)
}

// ReadLatest marks everything in the room as read. Deployments without the
// route answer 404, surfaced as cherrors.ErrNotFound for the caller to
// ignore.
func (c *Client) ReadLatest(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read-latest", nil, nil)
}

// SetMuted pushes the room's mute flag to the server.
func (c *Client) SetMuted(ctx context.Context, roomID string, muted bool) error {
	body := map[string]bool{"muted": muted}
	return c.do(ctx, http.MethodPatch, "/rooms/"+url.PathEscape(roomID)+"/mute", body, nil)
}

// Participants fetches the room roster.
func (c *Client) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	var envelope struct {
		Data []Participant `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/participants", nil, &envelope)
	if err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, cherrors.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, cherrors.ErrUnauthorized)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
