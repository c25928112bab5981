package hub

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// Hub tracks subscriber connections and fans scheduler events out to the
// owners subscribed to each pipeline. It implements queue.Sink, so attaching
// it to the scheduler is all the wiring the live status channel needs.
//
// A failing connection never poisons a broadcast: the send error tears down
// that one connection and delivery to the rest continues.
type Hub struct {
	logger      *slog.Logger
	sched       *queue.Scheduler
	sendTimeout time.Duration

	mu             sync.Mutex
	conns          map[Conn]string
	owners         map[string]map[Conn]struct{}
	ownerPipelines map[string]map[string]struct{}
	pipelineOwners map[string]map[string]struct{}
	closed         bool
}

// Option configures optional Hub behavior.
type Option func(*Hub)

// WithSendTimeout overrides the per-connection write deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// NewHub constructs a hub bound to the scheduler that cancellation commands
// are delegated to.
func NewHub(cfg *config.Config, sched *queue.Scheduler, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:         logging.NewComponentLogger(logger, "hub"),
		sched:          sched,
		sendTimeout:    5 * time.Second,
		conns:          make(map[Conn]string),
		owners:         make(map[string]map[Conn]struct{}),
		ownerPipelines: make(map[string]map[string]struct{}),
		pipelineOwners: make(map[string]map[string]struct{}),
	}
	if cfg != nil && cfg.Engine.SendTimeout > 0 {
		h.sendTimeout = time.Duration(cfg.Engine.SendTimeout) * time.Second
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a connection under its owner and immediately acknowledges
// it. A non-empty pipelineID also subscribes the owner in the same step. The
// connection is torn down again if the acknowledgement cannot be delivered.
func (h *Hub) Connect(conn Conn, ownerID, pipelineID string) error {
	ownerID = strings.TrimSpace(ownerID)
	if conn == nil || ownerID == "" {
		return services.Wrap(services.ErrValidation, "hub", "connect", "connection and owner id required", nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return services.Wrap(services.ErrTransport, "hub", "connect", "hub closed", nil)
	}

	h.conns[conn] = ownerID
	set, ok := h.owners[ownerID]
	if !ok {
		set = make(map[Conn]struct{})
		h.owners[ownerID] = set
	}
	set[conn] = struct{}{}

	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID != "" {
		h.subscribeLocked(ownerID, pipelineID)
	}

	ack := Message{
		Type:       MessageConnectionEstablished,
		OwnerID:    ownerID,
		PipelineID: pipelineID,
		Message:    "connected",
		Timestamp:  time.Now().UTC(),
	}
	if err := h.sendLocked(conn, ack); err != nil {
		h.disconnectLocked(conn)
		return services.Wrap(services.ErrTransport, "hub", "connect", "acknowledgement failed", err)
	}

	h.logger.Debug("subscriber connected",
		logging.String(logging.FieldOwnerID, ownerID),
		logging.String("remote_addr", conn.RemoteAddr()),
		logging.String(logging.FieldPipelineID, pipelineID),
	)
	return nil
}

// Disconnect removes a connection. When the owner's last connection goes, the
// owner's subscriptions go with it.
func (h *Hub) Disconnect(conn Conn) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(conn)
}

func (h *Hub) disconnectLocked(conn Conn) {
	ownerID, ok := h.conns[conn]
	if !ok {
		return
	}
	delete(h.conns, conn)
	_ = conn.Close()

	set := h.owners[ownerID]
	delete(set, conn)
	if len(set) > 0 {
		return
	}
	delete(h.owners, ownerID)
	for pipelineID := range h.ownerPipelines[ownerID] {
		h.pruneSubscriptionLocked(ownerID, pipelineID)
	}
	delete(h.ownerPipelines, ownerID)
	h.logger.Debug("owner disconnected", logging.String(logging.FieldOwnerID, ownerID))
}

// Subscribe adds the owner to a pipeline's broadcast set. The owner must have
// at least one live connection.
func (h *Hub) Subscribe(ownerID, pipelineID string) error {
	ownerID = strings.TrimSpace(ownerID)
	pipelineID = strings.TrimSpace(pipelineID)
	if ownerID == "" || pipelineID == "" {
		return services.Wrap(services.ErrValidation, "hub", "subscribe", "owner and pipeline ids required", nil)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.owners[ownerID]; !ok {
		return services.Wrap(services.ErrNotFound, "hub", "subscribe", "owner has no live connection", nil)
	}
	h.subscribeLocked(ownerID, pipelineID)
	return nil
}

func (h *Hub) subscribeLocked(ownerID, pipelineID string) {
	pipelines, ok := h.ownerPipelines[ownerID]
	if !ok {
		pipelines = make(map[string]struct{})
		h.ownerPipelines[ownerID] = pipelines
	}
	pipelines[pipelineID] = struct{}{}

	owners, ok := h.pipelineOwners[pipelineID]
	if !ok {
		owners = make(map[string]struct{})
		h.pipelineOwners[pipelineID] = owners
	}
	owners[ownerID] = struct{}{}
}

// Unsubscribe drops the owner from a pipeline's broadcast set, pruning empty
// index entries. Unknown pairs are a no-op.
func (h *Hub) Unsubscribe(ownerID, pipelineID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pipelines, ok := h.ownerPipelines[ownerID]; ok {
		delete(pipelines, pipelineID)
		if len(pipelines) == 0 {
			delete(h.ownerPipelines, ownerID)
		}
	}
	h.pruneSubscriptionLocked(ownerID, pipelineID)
}

func (h *Hub) pruneSubscriptionLocked(ownerID, pipelineID string) {
	owners, ok := h.pipelineOwners[pipelineID]
	if !ok {
		return
	}
	delete(owners, ownerID)
	if len(owners) == 0 {
		delete(h.pipelineOwners, pipelineID)
	}
}

// Publish implements queue.Sink. The scheduler invokes it synchronously for
// every event, so broadcast order matches mutation order per pipeline.
func (h *Hub) Publish(ev queue.Event) {
	h.Broadcast(ev.PipelineID, messageFromEvent(ev))
}

// Broadcast delivers a message to every connection of every owner subscribed
// to the pipeline. Connections whose send fails are disconnected; the rest
// still receive the message.
func (h *Hub) Broadcast(pipelineID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	owners, ok := h.pipelineOwners[pipelineID]
	if !ok {
		return
	}
	var failed []Conn
	for ownerID := range owners {
		for conn := range h.owners[ownerID] {
			if err := h.sendLocked(conn, msg); err != nil {
				logging.WarnWithContext(h.logger, "subscriber send failed; dropping connection", "subscriber_send_failed",
					logging.String(logging.FieldOwnerID, ownerID),
					logging.String(logging.FieldPipelineID, pipelineID),
					logging.String("remote_addr", conn.RemoteAddr()),
					logging.Error(services.Wrap(services.ErrTransport, "hub", "broadcast", "send failed", err)),
					logging.String(logging.FieldErrorHint, "client likely went away; it can reconnect"),
					logging.String(logging.FieldImpact, "one subscriber missed this event"),
				)
				failed = append(failed, conn)
			}
		}
	}
	for _, conn := range failed {
		h.disconnectLocked(conn)
	}
}

// HandleInbound processes one client command frame. Unknown types are logged
// and ignored; only transport failures close the connection.
func (h *Hub) HandleInbound(conn Conn, data []byte) {
	h.mu.Lock()
	ownerID, known := h.conns[conn]
	h.mu.Unlock()
	if !known {
		return
	}

	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.logger.Debug("malformed inbound frame",
			logging.String(logging.FieldOwnerID, ownerID),
			logging.Error(err),
		)
		h.reply(conn, Message{Type: MessageError, Message: "malformed message", Timestamp: time.Now().UTC()})
		return
	}

	switch in.Type {
	case InboundSubscribe:
		if err := h.Subscribe(ownerID, in.PipelineID); err != nil {
			h.reply(conn, Message{Type: MessageError, Message: "subscribe requires a pipelineId", Timestamp: time.Now().UTC()})
			return
		}
		h.reply(conn, Message{Type: MessageSubscriptionConfirmed, PipelineID: in.PipelineID, OwnerID: ownerID, Timestamp: time.Now().UTC()})
	case InboundUnsubscribe:
		h.Unsubscribe(ownerID, strings.TrimSpace(in.PipelineID))
		h.reply(conn, Message{Type: MessageUnsubscribeConfirmed, PipelineID: strings.TrimSpace(in.PipelineID), OwnerID: ownerID, Timestamp: time.Now().UTC()})
	case InboundCancel:
		// Scheduler is invoked without the hub lock held; its cancellation
		// event flows back through Publish like any other.
		if h.sched == nil || !h.sched.CancelPipeline(strings.TrimSpace(in.PipelineID)) {
			h.reply(conn, Message{Type: MessageError, PipelineID: strings.TrimSpace(in.PipelineID), Message: "pipeline not found or already finished", Timestamp: time.Now().UTC()})
		}
	case InboundPing:
		h.reply(conn, Message{Type: MessagePong, OwnerID: ownerID, Timestamp: time.Now().UTC()})
	default:
		h.logger.Debug("unrecognized inbound type ignored",
			logging.String(logging.FieldOwnerID, ownerID),
			logging.String("inbound_type", in.Type),
		)
	}
}

func (h *Hub) reply(conn Conn, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.sendLocked(conn, msg); err != nil {
		h.disconnectLocked(conn)
	}
}

func (h *Hub) sendLocked(conn Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.sendTimeout)); err != nil {
		return err
	}
	return conn.Send(data)
}

// Stats summarizes the hub's connection and subscription state.
type Stats struct {
	Connections   int
	Owners        int
	Subscriptions int
}

// Stats returns a snapshot of connection counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := Stats{
		Connections: len(h.conns),
		Owners:      len(h.owners),
	}
	for _, owners := range h.pipelineOwners {
		stats.Subscriptions += len(owners)
	}
	return stats
}

// Close disconnects every subscriber and rejects further connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[Conn]string)
	h.owners = make(map[string]map[Conn]struct{})
	h.ownerPipelines = make(map[string]map[string]struct{})
	h.pipelineOwners = make(map[string]map[string]struct{})
}
