package hub_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"conveyor/internal/hub"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

type fakeConn struct {
	mu        sync.Mutex
	name      string
	sends     [][]byte
	failSends bool
	closed    bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends {
		return errors.New("pipe broken")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sends = append(c.sends, cp)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.name }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages(t *testing.T) []hub.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hub.Message, 0, len(c.sends))
	for _, raw := range c.sends {
		var msg hub.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("undecodable frame %q: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

func newHub(t *testing.T, sched *queue.Scheduler) *hub.Hub {
	t.Helper()
	h := hub.NewHub(nil, sched, logging.NewNop(), hub.WithSendTimeout(time.Second))
	t.Cleanup(h.Close)
	return h
}

func newScheduler(t *testing.T) *queue.Scheduler {
	t.Helper()
	sched := queue.NewScheduler(nil, logging.NewNop(),
		queue.WithBackoff(func(int) time.Duration { return time.Millisecond }))
	t.Cleanup(sched.Close)
	return sched
}

func inbound(t *testing.T, msgType, pipelineID string) []byte {
	t.Helper()
	data, err := json.Marshal(hub.Inbound{Type: msgType, PipelineID: pipelineID})
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	return data
}

func TestConnectSendsAcknowledgement(t *testing.T) {
	h := newHub(t, newScheduler(t))
	conn := &fakeConn{name: "client-1"}

	if err := h.Connect(conn, "owner-1", "pipe-7"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	msgs := conn.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 ack message, got %d", len(msgs))
	}
	ack := msgs[0]
	if ack.Type != hub.MessageConnectionEstablished {
		t.Fatalf("unexpected ack type %q", ack.Type)
	}
	if ack.OwnerID != "owner-1" || ack.PipelineID != "pipe-7" {
		t.Fatalf("ack missing identity: %+v", ack)
	}

	stats := h.Stats()
	if stats.Connections != 1 || stats.Owners != 1 || stats.Subscriptions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestConnectValidation(t *testing.T) {
	h := newHub(t, newScheduler(t))

	if err := h.Connect(nil, "owner-1", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for nil conn, got %v", err)
	}
	if err := h.Connect(&fakeConn{}, "   ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank owner, got %v", err)
	}
	if err := h.Subscribe("ghost-owner", "pipe-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error for unconnected owner, got %v", err)
	}
}

func TestBroadcastReachesOnlySubscribedOwners(t *testing.T) {
	h := newHub(t, newScheduler(t))
	subscribed := &fakeConn{name: "sub"}
	other := &fakeConn{name: "other"}

	if err := h.Connect(subscribed, "owner-a", "pipe-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Connect(other, "owner-b", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.Broadcast("pipe-1", hub.Message{Type: "pipeline_status", PipelineID: "pipe-1", Status: "running", Timestamp: time.Now().UTC()})

	if got := len(subscribed.messages(t)); got != 2 {
		t.Fatalf("expected ack + broadcast for subscriber, got %d messages", got)
	}
	if got := len(other.messages(t)); got != 1 {
		t.Fatalf("expected only ack for non-subscriber, got %d messages", got)
	}
}

func TestBroadcastIsolatesFailingConnection(t *testing.T) {
	h := newHub(t, newScheduler(t))
	healthy := &fakeConn{name: "healthy"}
	broken := &fakeConn{name: "broken"}

	if err := h.Connect(healthy, "owner-a", "pipe-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Connect(broken, "owner-b", "pipe-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	broken.mu.Lock()
	broken.failSends = true
	broken.mu.Unlock()

	h.Broadcast("pipe-1", hub.Message{Type: "pipeline_status", PipelineID: "pipe-1", Status: "running", Timestamp: time.Now().UTC()})

	healthyMsgs := healthy.messages(t)
	if len(healthyMsgs) != 2 || healthyMsgs[1].Type != "pipeline_status" {
		t.Fatalf("healthy subscriber missed broadcast: %+v", healthyMsgs)
	}
	if !broken.isClosed() {
		t.Fatal("failing connection was not torn down")
	}

	stats := h.Stats()
	if stats.Connections != 1 || stats.Owners != 1 {
		t.Fatalf("expected only the healthy connection to remain: %+v", stats)
	}

	// Subsequent broadcasts still flow to the survivor.
	h.Broadcast("pipe-1", hub.Message{Type: "pipeline_complete", PipelineID: "pipe-1", Status: "completed", Timestamp: time.Now().UTC()})
	if msgs := healthy.messages(t); msgs[len(msgs)-1].Type != "pipeline_complete" {
		t.Fatalf("survivor missed follow-up broadcast: %+v", msgs)
	}
}

func TestDisconnectPrunesOwnerState(t *testing.T) {
	h := newHub(t, newScheduler(t))
	first := &fakeConn{name: "first"}
	second := &fakeConn{name: "second"}

	if err := h.Connect(first, "owner-a", "pipe-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Connect(second, "owner-a", "pipe-2"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.Disconnect(first)
	stats := h.Stats()
	if stats.Connections != 1 || stats.Owners != 1 || stats.Subscriptions != 2 {
		t.Fatalf("subscriptions must survive while a connection remains: %+v", stats)
	}

	h.Disconnect(second)
	stats = h.Stats()
	if stats.Connections != 0 || stats.Owners != 0 || stats.Subscriptions != 0 {
		t.Fatalf("expected empty hub after last disconnect: %+v", stats)
	}
	if !first.isClosed() || !second.isClosed() {
		t.Fatal("disconnected conns must be closed")
	}
}

func TestHandleInboundSubscribeAndUnsubscribe(t *testing.T) {
	h := newHub(t, newScheduler(t))
	conn := &fakeConn{name: "client"}
	if err := h.Connect(conn, "owner-a", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.HandleInbound(conn, inbound(t, "subscribe_pipeline", "pipe-9"))
	msgs := conn.messages(t)
	if msgs[len(msgs)-1].Type != hub.MessageSubscriptionConfirmed {
		t.Fatalf("expected subscription confirmation, got %+v", msgs[len(msgs)-1])
	}
	if h.Stats().Subscriptions != 1 {
		t.Fatalf("subscription not recorded: %+v", h.Stats())
	}

	h.Broadcast("pipe-9", hub.Message{Type: "pipeline_status", PipelineID: "pipe-9", Timestamp: time.Now().UTC()})
	msgs = conn.messages(t)
	if msgs[len(msgs)-1].Type != "pipeline_status" {
		t.Fatal("subscriber missed broadcast after inbound subscribe")
	}

	h.HandleInbound(conn, inbound(t, "unsubscribe_pipeline", "pipe-9"))
	msgs = conn.messages(t)
	if msgs[len(msgs)-1].Type != hub.MessageUnsubscribeConfirmed {
		t.Fatalf("expected unsubscription confirmation, got %+v", msgs[len(msgs)-1])
	}
	if h.Stats().Subscriptions != 0 {
		t.Fatalf("subscription not pruned: %+v", h.Stats())
	}

	before := len(conn.messages(t))
	h.Broadcast("pipe-9", hub.Message{Type: "pipeline_status", PipelineID: "pipe-9", Timestamp: time.Now().UTC()})
	if len(conn.messages(t)) != before {
		t.Fatal("unsubscribed owner still received broadcast")
	}
}

func TestHandleInboundPingAndUnknown(t *testing.T) {
	h := newHub(t, newScheduler(t))
	conn := &fakeConn{name: "client"}
	if err := h.Connect(conn, "owner-a", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.HandleInbound(conn, inbound(t, "ping", ""))
	msgs := conn.messages(t)
	if msgs[len(msgs)-1].Type != hub.MessagePong {
		t.Fatalf("expected pong, got %+v", msgs[len(msgs)-1])
	}

	before := len(conn.messages(t))
	h.HandleInbound(conn, inbound(t, "definitely_not_a_command", ""))
	if len(conn.messages(t)) != before {
		t.Fatal("unknown inbound type should be ignored silently")
	}
	if h.Stats().Connections != 1 {
		t.Fatal("unknown inbound type must not drop the connection")
	}

	h.HandleInbound(conn, []byte("{not json"))
	msgs = conn.messages(t)
	if msgs[len(msgs)-1].Type != hub.MessageError {
		t.Fatalf("expected error reply for malformed frame, got %+v", msgs[len(msgs)-1])
	}
	if h.Stats().Connections != 1 {
		t.Fatal("malformed frame must not drop the connection")
	}
}

func TestHandleInboundCancelDelegatesToScheduler(t *testing.T) {
	sched := newScheduler(t)
	h := newHub(t, sched)
	sched.AttachSink(h)

	pipeline, err := sched.CreatePipeline([]string{"doc-1"}, "owner-a", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}

	conn := &fakeConn{name: "client"}
	if err := h.Connect(conn, "owner-a", pipeline.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.HandleInbound(conn, inbound(t, "cancel_pipeline", pipeline.ID))

	got, _ := sched.GetPipeline(pipeline.ID)
	if got.Status != queue.PipelineCancelled {
		t.Fatalf("expected cancelled pipeline, got %s", got.Status)
	}
	msgs := conn.messages(t)
	if msgs[len(msgs)-1].Type != string(queue.EventPipelineCancelled) {
		t.Fatalf("expected pipeline_cancelled broadcast, got %+v", msgs[len(msgs)-1])
	}

	// Cancelling again reports the failure to the requesting client only.
	h.HandleInbound(conn, inbound(t, "cancel_pipeline", pipeline.ID))
	msgs = conn.messages(t)
	if msgs[len(msgs)-1].Type != hub.MessageError {
		t.Fatalf("expected error reply for repeat cancel, got %+v", msgs[len(msgs)-1])
	}
}

func TestHubStreamsSchedulerEventsInOrder(t *testing.T) {
	sched := newScheduler(t)
	h := newHub(t, sched)
	sched.AttachSink(h)

	pipeline, err := sched.CreatePipeline([]string{"doc-1"}, "owner-a", queue.WithPlan(queue.JobAnalysis))
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}
	conn := &fakeConn{name: "client"}
	if err := h.Connect(conn, "owner-a", pipeline.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job, ok := sched.DequeueNext()
	if !ok {
		t.Fatal("expected job")
	}
	for _, percent := range []int{25, 75} {
		if !sched.ReportProgress(job.ID, queue.Progress{Step: "working", Percent: percent, Message: fmt.Sprintf("%d%%", percent)}) {
			t.Fatal("ReportProgress failed")
		}
	}
	if !sched.CompleteJob(job.ID, nil) {
		t.Fatal("CompleteJob failed")
	}

	msgs := conn.messages(t)
	if msgs[len(msgs)-1].Type != string(queue.EventPipelineComplete) {
		t.Fatalf("expected pipeline_complete last, got %+v", msgs[len(msgs)-1])
	}

	var progressSeen []int
	completedIdx, completeIdx := -1, -1
	for i, msg := range msgs {
		switch msg.Type {
		case string(queue.EventJobStatus):
			if msg.Status == string(queue.StatusProcessing) {
				progressSeen = append(progressSeen, msg.Progress)
			}
			if msg.Status == string(queue.StatusCompleted) {
				completedIdx = i
			}
		case string(queue.EventPipelineComplete):
			completeIdx = i
		}
	}
	for i := 1; i < len(progressSeen); i++ {
		if progressSeen[i] < progressSeen[i-1] {
			t.Fatalf("progress went backwards on the wire: %v", progressSeen)
		}
	}
	if completedIdx == -1 || completeIdx == -1 || completedIdx > completeIdx {
		t.Fatalf("job completion must precede pipeline completion: job=%d pipeline=%d", completedIdx, completeIdx)
	}
}
