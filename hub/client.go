package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"chat-server/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Client is one live websocket connection. A user may hold several at once.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	username string
	keys     map[string]bool
	onClose  func()
}

func NewClient(h *Hub, conn *websocket.Conn, userID, username string, onClose func()) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		keys:     make(map[string]bool),
		onClose:  onClose,
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Run subscribes the client to its initial destinations and starts the
// read/write pumps. It returns immediately.
func (c *Client) Run(initialKeys []string) {
	for _, key := range initialKeys {
		c.hub.Subscribe(key, c)
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn().Err(err).Str("user", c.userID).Msg("unexpected close")
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.hub.logger.Debug().Err(err).Str("user", c.userID).Msg("bad inbound frame")
			continue
		}
		c.handleInbound(event)
	}
}

// handleInbound processes the few frame kinds clients may push upstream:
// typing indicators and subscription changes. Everything else flows through
// the HTTP API.
func (c *Client) handleInbound(event models.Event) {
	payload, _ := event.Payload.(map[string]interface{})

	switch event.Type {
	case models.EventTypingStart, models.EventTypingStop:
		c.relayTyping(event.Type, payload)
	case "subscribe":
		if key := subscriptionKey(payload); key != "" {
			c.hub.Subscribe(key, c)
		}
	case "unsubscribe":
		if key := subscriptionKey(payload); key != "" {
			c.hub.Unsubscribe(key, c)
		}
	default:
		c.hub.logger.Debug().Str("user", c.userID).Str("type", string(event.Type)).Msg("unknown inbound frame")
	}
}

func subscriptionKey(payload map[string]interface{}) string {
	if id, ok := payload["channel_id"].(string); ok && id != "" {
		return ChannelKey(id)
	}
	if id, ok := payload["group_id"].(string); ok && id != "" {
		return GroupKey(id)
	}
	return ""
}

// relayTyping rebroadcasts a typing indicator to the destination named in the
// payload. Indicators are ephemeral: best-effort, never stored, no
// deduplication across rapid toggles.
func (c *Client) relayTyping(kind models.EventType, payload map[string]interface{}) {
	indicator := models.TypingIndicator{
		UserID:    c.userID,
		Username:  c.username,
		Typing:    kind == models.EventTypingStart,
		Timestamp: time.Now(),
	}

	var key string
	if id, ok := payload["channel_id"].(string); ok && id != "" {
		indicator.ChannelID = id
		key = ChannelKey(id)
	} else if id, ok := payload["group_id"].(string); ok && id != "" {
		indicator.GroupID = id
		key = GroupKey(id)
	} else if id, ok := payload["recipient_id"].(string); ok && id != "" {
		indicator.RecipientID = id
		key = UserKey(id)
	} else {
		return
	}

	c.hub.Publish(key, models.Event{Type: kind, Payload: indicator})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
