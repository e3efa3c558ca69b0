package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"zkvault/internal/websocket"

	ws "github.com/gorilla/websocket"
)

// Watch streams server events for the current user until ctx is done or the
// connection drops. Messages the server batched into one frame are split
// and delivered in order.
func (c *Client) Watch(ctx context.Context, handle func(*websocket.Message)) error {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	q := url.Values{}
	if c.deviceID != "" {
		q.Set("device_id", c.deviceID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &Error{StatusCode: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var msg websocket.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				log.Printf("[Watch] dropping malformed message: %v", err)
				continue
			}
			handle(&msg)
		}
	}
}

// IsClosed reports whether err is the normal end of a Watch.
func IsClosed(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
