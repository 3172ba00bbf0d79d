package services

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AlertMessage is what the UI receives when a broadcastAlert action fires.
type AlertMessage struct {
	Type      string    `json:"type"`
	ProjectID uint      `json:"project_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type alertClient struct {
	id        string
	projectID uint // 0 subscribes to all projects
	conn      *websocket.Conn
	send      chan AlertMessage
	hub       *AlertHub
}

// AlertHub fans broadcastAlert messages out to connected browser clients.
type AlertHub struct {
	clients    map[string]*alertClient
	broadcast  chan AlertMessage
	register   chan *alertClient
	unregister chan *alertClient
	mutex      sync.RWMutex
}

var alertUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients:    make(map[string]*alertClient),
		broadcast:  make(chan AlertMessage, 64),
		register:   make(chan *alertClient),
		unregister: make(chan *alertClient),
	}
}

func (h *AlertHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			logrus.Infof("Alert client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				logrus.Infof("Alert client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for _, client := range h.clients {
				if client.projectID == 0 || client.projectID == message.ProjectID {
					select {
					case client.send <- message:
					default:
						close(client.send)
						delete(h.clients, client.id)
					}
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastAlert implements the Broadcaster interface used by the action
// executor. Non-blocking: a saturated hub drops rather than stalls a run.
func (h *AlertHub) BroadcastAlert(projectID uint, message string) {
	msg := AlertMessage{
		Type:      "alert",
		ProjectID: projectID,
		Message:   message,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- msg:
	default:
		logrus.Warnf("Alert hub saturated, dropping alert for project %d", projectID)
	}
}

// ClientCount returns the number of connected clients.
func (h *AlertHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and subscribes the client to the
// requested project (or all projects when none is given).
func (h *AlertHub) HandleWebSocket(c *gin.Context) {
	conn, err := alertUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Error("WebSocket upgrade failed:", err)
		return
	}

	var projectID uint
	if raw := c.Query("project_id"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
			projectID = uint(n)
		}
	}

	client := &alertClient{
		id:        fmt.Sprintf("client_%d", time.Now().UnixNano()),
		projectID: projectID,
		conn:      conn,
		send:      make(chan AlertMessage, 64),
		hub:       h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *alertClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// Clients only listen; reads exist to detect disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *alertClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			break
		}
	}
}
