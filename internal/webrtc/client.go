package webrtc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rtc2rtmp/rtc2rtmp/internal/app"
)

// PlayParam - SRS play API request
type PlayParam struct {
	API       string  `json:"api"`
	ClientIP  *string `json:"clientip"`
	SDP       string  `json:"sdp"`
	StreamURL string  `json:"streamurl"`
	TID       string  `json:"tid"`
}

type PlayResult struct {
	Code      int    `json:"code"`
	Server    string `json:"server,omitempty"`
	SDP       string `json:"sdp"`
	SessionID string `json:"sessionid"`
}

var ErrPlay = errors.New("webrtc: play API error")

// Play - POST offer to the play API, ex. https://localhost:443/rtc/v1/play/
func Play(ctx context.Context, client *http.Client, param *PlayParam) (*PlayResult, error) {
	body, err := json.Marshal(param)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", param.API, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", app.UserAgent)

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("%w: %s %s", ErrPlay, res.Status, b)
	}

	var result PlayResult
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, err
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("%w: code %d", ErrPlay, result.Code)
	}

	return &result, nil
}

func newHTTPClient(cfg *Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}

// Message - WebSocket signaling message, same as go2rtc API
type Message struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

func (m *Message) String() string {
	if s, ok := m.Value.(string); ok {
		return s
	}
	return ""
}

// wsClient - async signaling, ex. ws://localhost:1984/api/ws?src=camera1
type wsClient struct {
	conn *websocket.Conn
}

func dialWS(ctx context.Context, rawURL string, cfg *Config) (*wsClient, error) {
	dialer := *websocket.DefaultDialer
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{"User-Agent": []string{app.UserAgent}}

	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}

	return &wsClient{conn: conn}, nil
}

// Offer - send offer and wait for answer, remote candidates before answer are returned too
func (c *wsClient) Offer(ctx context.Context, offer string) (answer string, candidates []string, err error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	if err = c.conn.WriteJSON(&Message{Type: "webrtc/offer", Value: offer}); err != nil {
		return
	}

	for {
		var msg Message
		if err = c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "webrtc/answer":
			return msg.String(), candidates, nil
		case "webrtc/candidate":
			if s := msg.String(); s != "" {
				candidates = append(candidates, s)
			}
		case "error":
			return "", nil, fmt.Errorf("%w: %s", ErrPlay, msg.String())
		}
	}
}

// Candidates - read remote candidates until connection closed
func (c *wsClient) Candidates(f func(candidate string)) error {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == "webrtc/candidate" {
			if s := msg.String(); s != "" {
				f(s)
			}
		}
	}
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

func isWebSocket(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "ws" || u.Scheme == "wss")
}
