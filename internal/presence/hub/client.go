package hub

import (
	"sync"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/observability/metrics"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
)

type ClientConfig struct {
	WriteWait   time.Duration
	PongWait    time.Duration
	PingPeriod  time.Duration
	MaxMsgSize  int64
	SendBufSize int
}

// Client owns one user's transport. The hub owns the registry entry; the
// only ways it reaches the client are Deliver and Terminate.
type Client struct {
	hub      *Hub
	conn     *gorillaWS.Conn
	userID   string
	username string
	friends  []userdomain.ID

	send chan []byte
	stop chan struct{}

	stopOnce       sync.Once
	disconnectOnce sync.Once

	cfg ClientConfig
	log *logger.Logger
}

func NewClient(h *Hub, conn *gorillaWS.Conn, userID, username string, friends []userdomain.ID, cfg ClientConfig, log *logger.Logger) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		userID:   userID,
		username: username,
		friends:  friends,
		send:     make(chan []byte, cfg.SendBufSize),
		stop:     make(chan struct{}),
		cfg:      cfg,
		log:      log,
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Start registers the client with the hub and spins up the pumps.
func (c *Client) Start() {
	c.hub.Connect(c)
	go c.writePump()
	go c.readPump()
}

// Deliver queues one outbound frame. Delivery is best effort: a full send
// buffer or a stopping client drops the frame rather than blocking the hub.
func (c *Client) Deliver(message []byte) bool {
	select {
	case <-c.stop:
		metrics.PresenceDroppedFramesTotal.WithLabelValues("stopped").Inc()
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		metrics.PresenceDroppedFramesTotal.WithLabelValues("buffer_full").Inc()
		c.log.WithFields(nil, logger.Fields{
			"user_id": c.userID,
			"action":  "ws_send_buffer_full",
		}).Warn("websocket send buffer full, frame dropped")
		return false
	}
}

// Terminate forces the connection down. Used for eviction and shutdown.
func (c *Client) Terminate() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) notifyDisconnect() {
	c.disconnectOnce.Do(func() {
		c.hub.Disconnect(c)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Terminate()
		c.notifyDisconnect()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return c.conn.WriteControl(gorillaWS.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseNormalClosure, gorillaWS.CloseAbnormalClosure) {
				c.log.Warnf("websocket read error user_id=%s username=%s: %v", c.userID, c.username, err)
			}
			return
		}

		frame, err := DecodeClientFrame(raw)
		if err != nil {
			c.log.WithFields(nil, logger.Fields{
				"user_id": c.userID,
				"action":  "ws_invalid_frame",
			}).Warnf("websocket dropping frame: %v", err)
			continue
		}

		switch frame.Action {
		case ActionSubscribe:
			c.hub.Subscribe(c.userID, frame.Event)
		case ActionUnsubscribe:
			c.hub.Unsubscribe(c.userID, frame.Event)
		case ActionSignal:
			c.hub.Signal(c.userID, frame)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(gorillaWS.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(gorillaWS.PingMessage, nil); err != nil {
				return
			}

		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(gorillaWS.CloseMessage,
				gorillaWS.FormatCloseMessage(gorillaWS.CloseGoingAway, ""))
			return
		}
	}
}
