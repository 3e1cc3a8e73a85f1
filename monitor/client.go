package monitor

import (
	"context"
	"fmt"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// FrameMsg carries one frame read from the relay.
type FrameMsg struct {
	Data       []byte
	ReceivedAt time.Time
}

// DisconnectedMsg is sent when the connection is lost.
type DisconnectedMsg struct {
	Err error
}

// Source produces the next relay message as a tea.Cmd.
type Source interface {
	Next() tea.Cmd
}

// MonitorURL returns base with role=monitor set, keeping any other query
// parameters.
func MonitorURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("role", "monitor")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a monitor-role connection to the relay.
type Client struct {
	ws  *websocket.Conn
	url string
}

func Dial(ctx context.Context, base string) (*Client, error) {
	target, err := MonitorURL(base)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{ws: ws, url: target}, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Next() tea.Cmd {
	return func() tea.Msg {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return DisconnectedMsg{Err: err}
		}
		return FrameMsg{Data: data, ReceivedAt: time.Now()}
	}
}

func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
