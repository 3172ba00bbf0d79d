package services

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestAlertHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewAlertHub()
	// Run 未启动：缓冲塞满后 BroadcastAlert 必须丢弃而不是阻塞
	for i := 0; i < 200; i++ {
		hub.BroadcastAlert(1, "flood")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestAlertHub_ProjectFanout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewAlertHub()
	go hub.Run()

	r := gin.New()
	r.GET("/ws/alerts", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts?project_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 等注册完成
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	// 其他项目的告警不投递给该客户端
	hub.BroadcastAlert(2, "other project")
	hub.BroadcastAlert(1, "mine")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg AlertMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.ProjectID != 1 || msg.Message != "mine" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if msg.Type != "alert" {
		t.Errorf("expected type alert, got %s", msg.Type)
	}
}
