package main

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

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppcrm/internal/push"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
)

// apiClient talks to a running wppcrmd over its control API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	return &apiClient{
		base:  "http://" + addr,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

type statusResponse struct {
	Status status.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

type sendResponse struct {
	Success bool           `json:"success"`
	Message *store.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

func (c *apiClient) Status(ctx context.Context) (status.Status, error) {
	var st status.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Session posts to one of the session lifecycle routes: start, reset or logout.
func (c *apiClient) Session(ctx context.Context, action string) (status.Status, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodPost, "/api/session/"+action, nil, &resp)
	return resp.Status, err
}

func (c *apiClient) Send(ctx context.Context, conversationID, text string) (sendResponse, error) {
	var resp sendResponse
	body := map[string]string{"conversation_id": conversationID, "text": text}
	err := c.do(ctx, http.MethodPost, "/api/messages", body, &resp)
	return resp, err
}

func (c *apiClient) Messages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp messagesResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Messages, err
}

// Watch streams push frames until ctx is done or the connection drops.
func (c *apiClient) Watch(ctx context.Context, fn func(push.Frame)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	u := "ws" + c.base[len("http"):] + "/ws"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}()

	for {
		var f push.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(f)
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		// Error bodies still carry the status or send result.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return &apiError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
