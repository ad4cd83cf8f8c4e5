package trade_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quickfold/quicktrade/internal/trade"
)

func dialHub(t *testing.T, hub *trade.WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) trade.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read failed: %v", err)
	}
	var msg trade.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode ws message: %v", err)
	}
	return msg
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	conn := dialHub(t, hub)

	// Registration happens over a channel; give the hub a moment before
	// broadcasting so the client is in the set.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(trade.WSMessage{
		Type:        "trade_executed",
		ContractID:  "c1",
		Slug:        "will-it-rain",
		Probability: "0.55",
	})

	msg := readMessage(t, conn)
	if msg.Type != "trade_executed" || msg.ContractID != "c1" || msg.Probability != "0.55" {
		t.Errorf("unexpected broadcast %+v", msg)
	}
}

func TestWSNotifier_ToastLifecycle(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	conn := dialHub(t, hub)
	time.Sleep(50 * time.Millisecond)

	n := trade.WSNotifier{Hub: hub}
	n.Loading("t1", `M$10 on "Will it rain tomorro"...`)
	n.Success("t1", `M$10 on "Will it rain tomorro"...`)

	loading := readMessage(t, conn)
	if loading.Type != "toast_loading" || loading.ToastID != "t1" {
		t.Errorf("unexpected loading message %+v", loading)
	}
	success := readMessage(t, conn)
	if success.Type != "toast_success" || success.ToastID != "t1" {
		t.Errorf("unexpected success message %+v", success)
	}
	if success.Message != loading.Message {
		t.Errorf("success toast %q should repeat the loading toast %q", success.Message, loading.Message)
	}
}
