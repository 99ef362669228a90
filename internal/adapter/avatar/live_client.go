package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

// LiveClient keeps a bidirectional websocket to the avatar subsystem. Speak
// and interrupt commands go out; readiness transitions, speech completions
// and interrupt acknowledgements come back asynchronously and are forwarded
// to the registered listener.
type LiveClient struct {
	url      string
	token    string
	log      *zap.Logger
	listener ports.AvatarListener

	mu        sync.Mutex
	conn      *websocket.Conn
	interAcks map[string]chan struct{}
}

type command struct {
	Type     string `json:"type"`
	Session  string `json:"session,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

type subsystemEvent struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

func NewLiveClient(url, token string, log *zap.Logger) *LiveClient {
	return &LiveClient{
		url:       url,
		token:     token,
		log:       log,
		interAcks: make(map[string]chan struct{}),
	}
}

// SetListener registers the consumer of subsystem events. Must be called
// before Connect.
func (c *LiveClient) SetListener(listener ports.AvatarListener) {
	c.listener = listener
}

// Connect dials the subsystem, sends the session setup and starts the read
// loop. Readiness is reported by the subsystem itself, never assumed.
func (c *LiveClient) Connect(ctx context.Context) error {
	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	setup := map[string]interface{}{
		"setup": map[string]interface{}{
			"client":  "siga-mi",
			"version": 1,
		},
	}
	if err := c.send(ctx, setup); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return err
	}

	go c.readLoop()
	c.log.Info("Connected to avatar subsystem", zap.String("url", c.url))
	return nil
}

// Speak sends an utterance for one session. Completion is reported
// asynchronously through the listener as a speech-done event carrying the
// same session token.
func (c *LiveClient) Speak(ctx context.Context, session, text, language string) error {
	return c.send(ctx, command{Type: "speak", Session: session, Text: text, Language: language})
}

// Interrupt stops the session's current utterance and waits for
// acknowledgement or the context deadline, whichever comes first. A newer
// interrupt for the same session supersedes the older one and releases its
// waiter immediately.
func (c *LiveClient) Interrupt(ctx context.Context, session string) error {
	ack := make(chan struct{})
	c.mu.Lock()
	if prev, ok := c.interAcks[session]; ok {
		close(prev)
	}
	c.interAcks[session] = ack
	c.mu.Unlock()

	if err := c.send(ctx, command{Type: "interrupt", Session: session}); err != nil {
		return err
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LiveClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "shutting down")
}

func (c *LiveClient) send(ctx context.Context, msg interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrTransientNetwork
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *LiveClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			c.log.Warn("Avatar subsystem connection lost", zap.Error(err))
			c.notify(domain.AvatarEvent{Type: domain.AvatarNotReady})
			return
		}

		var evt subsystemEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Debug("Skipping malformed avatar event", zap.Error(err))
			continue
		}
		c.dispatch(evt)
	}
}

func (c *LiveClient) dispatch(evt subsystemEvent) {
	switch evt.Type {
	case "ready":
		c.notify(domain.AvatarEvent{Type: domain.AvatarReady, Session: evt.Session})
	case "not_ready":
		c.notify(domain.AvatarEvent{Type: domain.AvatarNotReady, Session: evt.Session})
	case "speech_done":
		c.notify(domain.AvatarEvent{Type: domain.AvatarSpeechDone, Session: evt.Session})
	case "interrupted":
		c.mu.Lock()
		if evt.Session == "" {
			// No attribution: release every waiter rather than strand one.
			for s, ack := range c.interAcks {
				close(ack)
				delete(c.interAcks, s)
			}
		} else if ack, ok := c.interAcks[evt.Session]; ok {
			close(ack)
			delete(c.interAcks, evt.Session)
		}
		c.mu.Unlock()
		c.notify(domain.AvatarEvent{Type: domain.AvatarInterrupted, Session: evt.Session})
	default:
		c.log.Debug("Unknown avatar event", zap.String("type", evt.Type))
	}
}

func (c *LiveClient) notify(event domain.AvatarEvent) {
	if c.listener == nil {
		return
	}
	c.listener.OnAvatarEvent(event)
}
