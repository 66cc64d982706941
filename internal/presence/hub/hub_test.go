package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/peerhub/peerhub/internal/common/constants"
	"github.com/peerhub/peerhub/internal/common/logger"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
)

type stubStore struct {
	friendsFn func(ctx context.Context, id userdomain.ID) ([]userdomain.ID, error)
}

func (s *stubStore) FriendsOf(ctx context.Context, id userdomain.ID) ([]userdomain.ID, error) {
	if s.friendsFn == nil {
		return nil, nil
	}
	return s.friendsFn(ctx, id)
}

func newTestHub(t *testing.T, store UserStore) *Hub {
	t.Helper()

	log, err := logger.New("", "hub-test", "ERROR")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	h := New(log, store, Config{QueueSize: 64, LookupTimeout: time.Second})
	go h.Run(context.Background())
	t.Cleanup(h.Shutdown)

	return h
}

func newTestClient(h *Hub, userID string, friends ...string) *Client {
	ids := make([]userdomain.ID, 0, len(friends))
	for _, f := range friends {
		ids = append(ids, userdomain.ID(f))
	}
	return NewClient(h, nil, userID, "user-"+userID, ids, ClientConfig{SendBufSize: 8}, h.log)
}

// drain drains the queue: ConnectedIDs goes through the same serialized
// queue, so once it answers every earlier command has been handled.
func drain(t *testing.T, h *Hub) []string {
	t.Helper()
	return h.ConnectedIDs()
}

func recvFrame(t *testing.T, c *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame delivered: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func isTerminated(c *Client) bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func TestConnectRegistersClient(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	c := newTestClient(h, "alice")
	h.Connect(c)

	ids := drain(t, h)
	if len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("expected [alice], got %v", ids)
	}
}

func TestConnectEvictsStaleConnection(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	first := newTestClient(h, "alice")
	h.Connect(first)
	drain(t, h)

	second := newTestClient(h, "alice")
	h.Connect(second)
	ids := drain(t, h)

	if len(ids) != 1 {
		t.Fatalf("expected a single registration, got %v", ids)
	}
	if !isTerminated(first) {
		t.Fatal("stale connection was not terminated")
	}
	if isTerminated(second) {
		t.Fatal("fresh connection must stay up")
	}
}

func TestDisconnectFromEvictedClientIsNoOp(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	first := newTestClient(h, "alice")
	h.Connect(first)
	second := newTestClient(h, "alice")
	h.Connect(second)
	drain(t, h)

	// The evicted handle reports its disconnect late; the new registration
	// must survive it.
	h.Disconnect(first)
	ids := drain(t, h)

	if len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("late disconnect clobbered the fresh registration: %v", ids)
	}
}

func TestLoginEventReachesSubscribedFriendsOnly(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	bob := newTestClient(h, "bob")
	carol := newTestClient(h, "carol")
	h.Connect(bob)
	h.Connect(carol)
	h.Subscribe("bob", constants.EventLogin)
	drain(t, h)

	alice := newTestClient(h, "alice", "bob", "carol")
	h.Connect(alice)
	drain(t, h)

	raw := recvFrame(t, bob, time.Second)
	var msg EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Event != constants.EventLogin || msg.Data != "alice" || msg.MsgType != "pusher" {
		t.Fatalf("unexpected login frame: %+v", msg)
	}

	assertNoFrame(t, carol)
}

func TestLoginEventSkipsNonFriends(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	mallory := newTestClient(h, "mallory")
	h.Connect(mallory)
	h.Subscribe("mallory", constants.EventLogin)
	drain(t, h)

	alice := newTestClient(h, "alice", "bob")
	h.Connect(alice)
	drain(t, h)

	assertNoFrame(t, mallory)
}

func TestLogoutUsesFreshFriendLookup(t *testing.T) {
	store := &stubStore{
		friendsFn: func(_ context.Context, id userdomain.ID) ([]userdomain.ID, error) {
			if id == "alice" {
				return []userdomain.ID{"bob"}, nil
			}
			return nil, nil
		},
	}
	h := newTestHub(t, store)

	bob := newTestClient(h, "bob")
	h.Connect(bob)
	h.Subscribe("bob", constants.EventLogout)
	drain(t, h)

	// The connect-time snapshot is empty; the logout audience must come
	// from the store instead.
	alice := newTestClient(h, "alice")
	h.Connect(alice)
	drain(t, h)

	h.Disconnect(alice)

	raw := recvFrame(t, bob, 2*time.Second)
	var msg EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Event != constants.EventLogout || msg.Data != "alice" {
		t.Fatalf("unexpected logout frame: %+v", msg)
	}
}

func TestDisconnectTwiceEmitsOneLogout(t *testing.T) {
	store := &stubStore{
		friendsFn: func(_ context.Context, id userdomain.ID) ([]userdomain.ID, error) {
			if id == "alice" {
				return []userdomain.ID{"bob"}, nil
			}
			return nil, nil
		},
	}
	h := newTestHub(t, store)

	bob := newTestClient(h, "bob")
	h.Connect(bob)
	h.Subscribe("bob", constants.EventLogout)
	drain(t, h)

	alice := newTestClient(h, "alice")
	h.Connect(alice)
	drain(t, h)

	h.Disconnect(alice)
	h.Disconnect(alice)

	recvFrame(t, bob, 2*time.Second)
	drain(t, h)
	assertNoFrame(t, bob)
}

func TestDisconnectSkipsLogoutWhenLookupFails(t *testing.T) {
	store := &stubStore{
		friendsFn: func(context.Context, userdomain.ID) ([]userdomain.ID, error) {
			return nil, errors.New("store is down")
		},
	}
	h := newTestHub(t, store)

	bob := newTestClient(h, "bob")
	h.Connect(bob)
	h.Subscribe("bob", constants.EventLogout)
	drain(t, h)

	alice := newTestClient(h, "alice")
	h.Connect(alice)
	drain(t, h)

	h.Disconnect(alice)
	drain(t, h)

	assertNoFrame(t, bob)
}

func TestDispatchFiltersBySubscription(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	bob := newTestClient(h, "bob")
	carol := newTestClient(h, "carol")
	h.Connect(bob)
	h.Connect(carol)
	h.Subscribe("bob", constants.EventFriendRequest)
	drain(t, h)

	h.Dispatch(constants.EventFriendRequest, map[string]string{"id": "alice"}, []string{"bob", "carol"})
	drain(t, h)

	raw := recvFrame(t, bob, time.Second)
	var msg EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Event != constants.EventFriendRequest {
		t.Fatalf("unexpected event: %q", msg.Event)
	}

	assertNoFrame(t, carol)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	bob := newTestClient(h, "bob")
	h.Connect(bob)
	h.Subscribe("bob", constants.EventFriendRequest)
	h.Unsubscribe("bob", constants.EventFriendRequest)
	drain(t, h)

	h.Dispatch(constants.EventFriendRequest, "alice", []string{"bob"})
	drain(t, h)

	assertNoFrame(t, bob)
}

func TestSubscribeIgnoredWhenNotConnected(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	h.Subscribe("ghost", constants.EventLogin)
	drain(t, h)

	h.Dispatch(constants.EventLogin, "alice", []string{"ghost"})
	drain(t, h)
}

func TestEvictionPurgesSubscriptions(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	first := newTestClient(h, "alice")
	h.Connect(first)
	h.Subscribe("alice", constants.EventFriendRequest)
	drain(t, h)

	second := newTestClient(h, "alice")
	h.Connect(second)
	drain(t, h)

	// Old subscriptions must not route frames to the fresh handle.
	h.Dispatch(constants.EventFriendRequest, "bob", []string{"alice"})
	drain(t, h)

	assertNoFrame(t, second)
}

func TestSignalRelayedBetweenFriends(t *testing.T) {
	store := &stubStore{
		friendsFn: func(_ context.Context, id userdomain.ID) ([]userdomain.ID, error) {
			if id == "alice" {
				return []userdomain.ID{"bob"}, nil
			}
			return nil, nil
		},
	}
	h := newTestHub(t, store)

	alice := newTestClient(h, "alice")
	bob := newTestClient(h, "bob")
	h.Connect(alice)
	h.Connect(bob)
	drain(t, h)

	h.Signal("alice", ClientFrame{
		Action:   ActionSignal,
		RemoteID: "bob",
		PeerData: "offer-sdp",
		Type:     "offer",
	})

	raw := recvFrame(t, bob, 2*time.Second)
	var msg SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.RemoteID != "alice" {
		t.Fatalf("relayed frame must carry the sender id, got %q", msg.RemoteID)
	}
	if msg.PeerData != "offer-sdp" || msg.Type != "offer" || msg.MsgType != "signal" {
		t.Fatalf("unexpected signal frame: %+v", msg)
	}

	assertNoFrame(t, alice)
}

func TestSignalRejectedForNonFriend(t *testing.T) {
	store := &stubStore{
		friendsFn: func(context.Context, userdomain.ID) ([]userdomain.ID, error) {
			return nil, nil
		},
	}
	h := newTestHub(t, store)

	alice := newTestClient(h, "alice")
	bob := newTestClient(h, "bob")
	h.Connect(alice)
	h.Connect(bob)
	drain(t, h)

	h.Signal("alice", ClientFrame{Action: ActionSignal, RemoteID: "bob", PeerData: "offer"})

	raw := recvFrame(t, alice, 2*time.Second)
	var msg SignalErrorMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Error != "Not friend" || msg.RemoteID != "bob" {
		t.Fatalf("unexpected rejection frame: %+v", msg)
	}

	assertNoFrame(t, bob)
}

func TestSignalDroppedWhenLookupFails(t *testing.T) {
	store := &stubStore{
		friendsFn: func(context.Context, userdomain.ID) ([]userdomain.ID, error) {
			return nil, errors.New("store is down")
		},
	}
	h := newTestHub(t, store)

	alice := newTestClient(h, "alice")
	bob := newTestClient(h, "bob")
	h.Connect(alice)
	h.Connect(bob)
	drain(t, h)

	h.Signal("alice", ClientFrame{Action: ActionSignal, RemoteID: "bob"})
	time.Sleep(100 * time.Millisecond)
	drain(t, h)

	assertNoFrame(t, alice)
	assertNoFrame(t, bob)
}

func TestSignalToOfflineFriendIsDropped(t *testing.T) {
	store := &stubStore{
		friendsFn: func(context.Context, userdomain.ID) ([]userdomain.ID, error) {
			return []userdomain.ID{"bob"}, nil
		},
	}
	h := newTestHub(t, store)

	alice := newTestClient(h, "alice")
	h.Connect(alice)
	drain(t, h)

	h.Signal("alice", ClientFrame{Action: ActionSignal, RemoteID: "bob"})
	time.Sleep(100 * time.Millisecond)
	drain(t, h)

	assertNoFrame(t, alice)
}

func TestConnectedIDsAfterShutdown(t *testing.T) {
	log, err := logger.New("", "hub-test", "ERROR")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	h := New(log, &stubStore{}, Config{})
	go h.Run(context.Background())
	h.Shutdown()

	if ids := h.ConnectedIDs(); ids != nil {
		t.Fatalf("expected nil after shutdown, got %v", ids)
	}
}

func TestDeliverDropsWhenBufferFull(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	c := NewClient(h, nil, "alice", "alice", nil, ClientConfig{SendBufSize: 1}, h.log)

	if !c.Deliver([]byte("one")) {
		t.Fatal("first frame should be queued")
	}
	if c.Deliver([]byte("two")) {
		t.Fatal("second frame should be dropped, buffer is full")
	}
}

func TestDeliverDropsAfterTerminate(t *testing.T) {
	h := newTestHub(t, &stubStore{})

	c := newTestClient(h, "alice")
	c.Terminate()

	if c.Deliver([]byte("frame")) {
		t.Fatal("terminated client must not accept frames")
	}
}
