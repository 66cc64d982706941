package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/peerhub/peerhub/internal/common/constants"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
)

// Short heartbeat so liveness failures surface within the test budget.
var shortHeartbeat = ClientConfig{
	WriteWait:   200 * time.Millisecond,
	PongWait:    250 * time.Millisecond,
	PingPeriod:  80 * time.Millisecond,
	MaxMsgSize:  64 * 1024,
	SendBufSize: 8,
}

// Relaxed heartbeat for tests that exercise the frame path, not liveness.
var relaxedHeartbeat = ClientConfig{
	WriteWait:   time.Second,
	PongWait:    5 * time.Second,
	PingPeriod:  time.Second,
	MaxMsgSize:  64 * 1024,
	SendBufSize: 8,
}

func newPumpServer(t *testing.T, h *Hub, userID string, cfg ClientConfig) *httptest.Server {
	t.Helper()

	upgrader := gorillaWS.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		c := NewClient(h, conn, userID, "user-"+userID, nil, cfg, h.log)
		c.Start()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialPump(t *testing.T, srv *httptest.Server) *gorillaWS.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForRegistration(t *testing.T, h *Hub, userID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range h.ConnectedIDs() {
			if id == userID {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never registered", userID)
}

func waitForRemoval(t *testing.T, h *Hub, userID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		present := false
		for _, id := range h.ConnectedIDs() {
			if id == userID {
				present = true
			}
		}
		if !present {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s still registered after liveness timeout", userID)
}

func TestHeartbeatClosesSilentConnection(t *testing.T) {
	var lookups atomic.Int32
	store := &stubStore{
		friendsFn: func(context.Context, userdomain.ID) ([]userdomain.ID, error) {
			lookups.Add(1)
			return nil, nil
		},
	}
	h := newTestHub(t, store)
	srv := newPumpServer(t, h, "alice", shortHeartbeat)

	// Never read from the dialed side: pings go unanswered, so the read
	// deadline must expire and tear the registration down.
	dialPump(t, srv)
	waitForRegistration(t, h, "alice")
	waitForRemoval(t, h, "alice")

	// One disconnect means one logout lookup; give the detached goroutine
	// room to run, then make sure no duplicate ever follows.
	deadline := time.Now().Add(time.Second)
	for lookups.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := lookups.Load(); got != 1 {
		t.Fatalf("expected exactly one disconnect, saw %d logout lookups", got)
	}
}

func TestHeartbeatKeepsResponsiveConnectionAlive(t *testing.T) {
	h := newTestHub(t, &stubStore{})
	srv := newPumpServer(t, h, "alice", shortHeartbeat)

	conn := dialPump(t, srv)
	waitForRegistration(t, h, "alice")

	// A reading peer answers pings automatically, so the connection must
	// outlive several pong windows.
	stopReading := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			select {
			case <-stopReading:
				return
			default:
			}
		}
	}()

	time.Sleep(4 * shortHeartbeat.PongWait)

	ids := h.ConnectedIDs()
	if len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("responsive connection was dropped: %v", ids)
	}

	close(stopReading)
	conn.Close()
	waitForRemoval(t, h, "alice")
}

func TestMalformedFramesAreNonFatal(t *testing.T) {
	h := newTestHub(t, &stubStore{})
	srv := newPumpServer(t, h, "alice", relaxedHeartbeat)

	conn := dialPump(t, srv)
	waitForRegistration(t, h, "alice")

	garbage := [][]byte{
		[]byte("not json at all"),
		[]byte(`{"action":"dance"}`),
		[]byte(`{"action":"subscribe"}`),
	}
	for _, frame := range garbage {
		if err := conn.WriteMessage(gorillaWS.TextMessage, frame); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// A valid subscribe after the garbage proves the connection survived.
	if err := conn.WriteMessage(gorillaWS.TextMessage,
		[]byte(`{"action":"subscribe","event":"`+constants.EventFriendRequest+`"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Frames are processed in order, so once the rejection for this signal
	// bounces back the subscribe above is guaranteed to have been applied.
	if err := conn.WriteMessage(gorillaWS.TextMessage,
		[]byte(`{"action":"signal","remoteId":"nobody","peerData":"x"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("connection died after malformed frames: %v", err)
	}
	var rejection SignalErrorMessage
	if err := json.Unmarshal(raw, &rejection); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if rejection.Error != "Not friend" {
		t.Fatalf("unexpected frame: %s", raw)
	}

	h.Dispatch(constants.EventFriendRequest, "ping", []string{"alice"})

	_, raw, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read dispatched frame: %v", err)
	}
	var msg EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Event != constants.EventFriendRequest || msg.MsgType != "pusher" {
		t.Fatalf("unexpected frame: %+v", msg)
	}
}
