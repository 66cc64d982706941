package hub

import (
	"context"
	"time"

	"github.com/peerhub/peerhub/internal/common/constants"
	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/observability/metrics"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
)

// UserStore is the read-only slice of the external user store the hub
// needs: a fresh friend set per lookup. The hub never writes to it.
type UserStore interface {
	FriendsOf(ctx context.Context, id userdomain.ID) ([]userdomain.ID, error)
}

type Config struct {
	QueueSize     int
	LookupTimeout time.Duration
}

// Hub is the sole owner of the connection and subscription registries.
// Every operation is a control message on one queue, handled by the single
// Run goroutine, so compound mutations like evict-then-insert are atomic
// without locks. Mutating operations are fire-and-forget; only ConnectedIDs
// waits for a reply.
type Hub struct {
	commands chan command

	// Owned exclusively by the Run goroutine.
	connections   map[string]*Client
	subscriptions map[string]map[string]*Client
	subCount      int

	users         UserStore
	lookupTimeout time.Duration
	log           *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type command interface{}

type connectCmd struct{ client *Client }

type disconnectCmd struct{ client *Client }

type subscribeCmd struct {
	userID string
	event  string
}

type unsubscribeCmd struct {
	userID string
	event  string
}

type dispatchCmd struct {
	event      string
	data       any
	recipients []string
}

type signalCmd struct {
	senderID string
	frame    ClientFrame
}

// relayCmd is the second half of a Signal: the detached friend lookup done,
// its result re-enters the serialized queue here.
type relayCmd struct {
	senderID string
	frame    ClientFrame
	friends  []userdomain.ID
	err      error
}

// logoutCmd is the second half of a Disconnect, carrying the fresh friend
// list fetched after the registry entry was removed.
type logoutCmd struct {
	userID  string
	friends []userdomain.ID
}

type connectedIDsCmd struct{ reply chan []string }

func New(log *logger.Logger, users UserStore, cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultHubQueueSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = constants.DefaultLookupTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		commands:      make(chan command, cfg.QueueSize),
		connections:   make(map[string]*Client),
		subscriptions: make(map[string]map[string]*Client),
		users:         users,
		lookupTimeout: cfg.LookupTimeout,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Run drains the control queue one message at a time until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.commands:
			h.handle(cmd)
			metrics.PresenceHubQueueDepth.Set(float64(len(h.commands)))
		}
	}
}

// Shutdown stops the Run loop and waits for the registry drain.
func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done
}

func (h *Hub) submit(cmd command) {
	select {
	case h.commands <- cmd:
		metrics.PresenceHubQueueDepth.Set(float64(len(h.commands)))
	case <-h.ctx.Done():
	}
}

func (h *Hub) Connect(c *Client)    { h.submit(connectCmd{client: c}) }
func (h *Hub) Disconnect(c *Client) { h.submit(disconnectCmd{client: c}) }

func (h *Hub) Subscribe(userID, event string) {
	h.submit(subscribeCmd{userID: userID, event: event})
}

func (h *Hub) Unsubscribe(userID, event string) {
	h.submit(unsubscribeCmd{userID: userID, event: event})
}

// Dispatch pushes a server-initiated notification to the given recipients.
// Recipients not subscribed to the event receive nothing; callers make sure
// clients subscribe to the event names they push.
func (h *Hub) Dispatch(event string, data any, recipients []string) {
	h.submit(dispatchCmd{event: event, data: data, recipients: recipients})
}

func (h *Hub) Signal(senderID string, frame ClientFrame) {
	h.submit(signalCmd{senderID: senderID, frame: frame})
}

// ConnectedIDs returns a snapshot of currently registered user ids. Returns
// nil once the hub is shut down.
func (h *Hub) ConnectedIDs() []string {
	reply := make(chan []string, 1)

	select {
	case h.commands <- connectedIDsCmd{reply: reply}:
	case <-h.ctx.Done():
		return nil
	}

	select {
	case ids := <-reply:
		return ids
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) handle(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		h.handleConnect(c.client)
	case disconnectCmd:
		h.handleDisconnect(c.client)
	case subscribeCmd:
		h.handleSubscribe(c.userID, c.event)
	case unsubscribeCmd:
		h.handleUnsubscribe(c.userID, c.event)
	case dispatchCmd:
		h.emitEvent(c.event, c.data, c.recipients)
	case signalCmd:
		h.handleSignal(c)
	case relayCmd:
		h.handleRelay(c)
	case logoutCmd:
		h.emitEvent(constants.EventLogout, c.userID, idStrings(c.friends))
	case connectedIDsCmd:
		c.reply <- h.connectedIDs()
	}
}

func (h *Hub) handleConnect(c *Client) {
	if existing, ok := h.connections[c.userID]; ok && existing != c {
		h.log.WithFields(nil, logger.Fields{
			"user_id": c.userID,
			"action":  "hub_evict",
		}).Info("evicting stale connection for reconnecting user")

		existing.Terminate()
		h.pruneSubscriptions(c.userID)
		metrics.PresenceEvictionsTotal.Inc()
	}

	h.connections[c.userID] = c
	metrics.PresenceConnectionsActive.Set(float64(len(h.connections)))

	h.log.WithFields(nil, logger.Fields{
		"user_id":  c.userID,
		"username": c.username,
		"total":    len(h.connections),
		"action":   "hub_connect",
	}).Info("connection registered")

	h.emitEvent(constants.EventLogin, c.userID, idStrings(c.friends))
}

func (h *Hub) handleDisconnect(c *Client) {
	current, ok := h.connections[c.userID]
	if !ok || current != c {
		// Either already gone or superseded by a reconnect; the evicting
		// Connect cleaned up on our behalf.
		return
	}

	delete(h.connections, c.userID)
	h.pruneSubscriptions(c.userID)
	metrics.PresenceConnectionsActive.Set(float64(len(h.connections)))
	metrics.PresenceDisconnectsTotal.WithLabelValues("unregister").Inc()

	h.log.WithFields(nil, logger.Fields{
		"user_id":  c.userID,
		"username": c.username,
		"total":    len(h.connections),
		"action":   "hub_disconnect",
	}).Info("connection unregistered")

	// Friendships may have changed since connect, so the logout audience is
	// resolved against the store, off the hub loop.
	userID := c.userID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.lookupTimeout)
		defer cancel()

		start := time.Now()
		friends, err := h.users.FriendsOf(ctx, userdomain.ID(userID))
		metrics.PresenceFriendLookupDurationSeconds.WithLabelValues("disconnect").Observe(time.Since(start).Seconds())
		if err != nil {
			h.log.WithFields(ctx, logger.Fields{
				"user_id": userID,
				"action":  "hub_logout_lookup_failed",
			}).Warnf("friend lookup failed, skipping logout event: %v", err)
			return
		}

		h.submit(logoutCmd{userID: userID, friends: friends})
	}()
}

func (h *Hub) handleSubscribe(userID, event string) {
	// The handle is always taken from the registry so a subscription can
	// never outlive an eviction.
	client, ok := h.connections[userID]
	if !ok {
		return
	}

	subs, ok := h.subscriptions[event]
	if !ok {
		subs = make(map[string]*Client)
		h.subscriptions[event] = subs
	}

	if _, present := subs[userID]; !present {
		h.subCount++
	}
	subs[userID] = client
	metrics.PresenceSubscriptionsActive.Set(float64(h.subCount))
}

func (h *Hub) handleUnsubscribe(userID, event string) {
	subs, ok := h.subscriptions[event]
	if !ok {
		return
	}

	if _, present := subs[userID]; present {
		delete(subs, userID)
		h.subCount--
		metrics.PresenceSubscriptionsActive.Set(float64(h.subCount))
	}
	if len(subs) == 0 {
		delete(h.subscriptions, event)
	}
}

func (h *Hub) handleSignal(cmd signalCmd) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.lookupTimeout)
		defer cancel()

		start := time.Now()
		friends, err := h.users.FriendsOf(ctx, userdomain.ID(cmd.senderID))
		metrics.PresenceFriendLookupDurationSeconds.WithLabelValues("signal").Observe(time.Since(start).Seconds())

		h.submit(relayCmd{senderID: cmd.senderID, frame: cmd.frame, friends: friends, err: err})
	}()
}

func (h *Hub) handleRelay(cmd relayCmd) {
	if cmd.err != nil {
		h.log.WithFields(nil, logger.Fields{
			"user_id": cmd.senderID,
			"action":  "hub_signal_lookup_failed",
		}).Warnf("friend lookup failed, dropping signal: %v", cmd.err)
		metrics.PresenceSignalsTotal.WithLabelValues("lookup_failed").Inc()
		return
	}

	remoteID := cmd.frame.RemoteID

	if !containsID(cmd.friends, userdomain.ID(remoteID)) {
		metrics.PresenceSignalsTotal.WithLabelValues("rejected").Inc()
		message, err := marshalSignalError("Not friend", remoteID)
		if err != nil {
			h.log.Errorf("failed to marshal signal rejection: %v", err)
			return
		}
		// The rejection goes back to the sender, never to the target.
		h.deliverTo(cmd.senderID, message)
		return
	}

	message, err := marshalSignal(cmd.senderID, cmd.frame)
	if err != nil {
		h.log.Errorf("failed to marshal signal: %v", err)
		return
	}

	if h.deliverTo(remoteID, message) {
		metrics.PresenceSignalsTotal.WithLabelValues("relayed").Inc()
	} else {
		metrics.PresenceSignalsTotal.WithLabelValues("offline").Inc()
	}
}

// emitEvent delivers an event to every recipient currently subscribed to
// it. Unsubscribed or offline recipients are skipped silently.
func (h *Hub) emitEvent(event string, data any, recipients []string) {
	subs, ok := h.subscriptions[event]
	if !ok {
		return
	}

	message, err := marshalEvent(event, data)
	if err != nil {
		h.log.Errorf("failed to marshal %q event: %v", event, err)
		return
	}

	for _, id := range recipients {
		client, subscribed := subs[id]
		if !subscribed {
			continue
		}
		if client.Deliver(message) {
			metrics.PresenceEventsEmittedTotal.WithLabelValues(event).Inc()
		}
	}
}

func (h *Hub) deliverTo(userID string, message []byte) bool {
	client, ok := h.connections[userID]
	if !ok {
		h.log.WithFields(nil, logger.Fields{
			"user_id": userID,
			"action":  "hub_deliver_offline",
		}).Debug("no live connection, frame dropped")
		return false
	}
	return client.Deliver(message)
}

func (h *Hub) pruneSubscriptions(userID string) {
	for event, subs := range h.subscriptions {
		if _, present := subs[userID]; present {
			delete(subs, userID)
			h.subCount--
		}
		if len(subs) == 0 {
			delete(h.subscriptions, event)
		}
	}
	metrics.PresenceSubscriptionsActive.Set(float64(h.subCount))
}

func (h *Hub) connectedIDs() []string {
	ids := make([]string, 0, len(h.connections))
	for id := range h.connections {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) shutdown() {
	h.cancel()

	for _, client := range h.connections {
		client.Terminate()
	}

	count := len(h.connections)
	h.connections = make(map[string]*Client)
	h.subscriptions = make(map[string]map[string]*Client)
	h.subCount = 0
	metrics.PresenceConnectionsActive.Set(0)
	metrics.PresenceSubscriptionsActive.Set(0)

	h.log.WithFields(nil, logger.Fields{
		"clients": count,
		"action":  "hub_shutdown",
	}).Info("hub shutdown completed")
}

func idStrings(ids []userdomain.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func containsID(ids []userdomain.ID, target userdomain.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
