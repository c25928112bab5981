package hub

import (
	"time"

	"conveyor/internal/queue"
)

// Outbound message types.
const (
	MessageConnectionEstablished = "connection_established"
	MessageSubscriptionConfirmed = "subscription_confirmed"
	MessageUnsubscribeConfirmed  = "unsubscription_confirmed"
	MessagePong                  = "pong"
	MessageError                 = "error"
)

// Inbound message types.
const (
	InboundSubscribe   = "subscribe_pipeline"
	InboundUnsubscribe = "unsubscribe_pipeline"
	InboundCancel      = "cancel_pipeline"
	InboundPing        = "ping"
)

// Message is the wire shape sent to stream subscribers. Scheduler events map
// onto it directly; control acknowledgements fill only the fields they need.
type Message struct {
	Type       string    `json:"type"`
	PipelineID string    `json:"pipelineId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	JobType    string    `json:"jobType,omitempty"`
	OwnerID    string    `json:"ownerId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Inbound is a client command received over the stream connection.
type Inbound struct {
	Type       string `json:"type"`
	PipelineID string `json:"pipelineId,omitempty"`
}

func messageFromEvent(ev queue.Event) Message {
	return Message{
		Type:       string(ev.Type),
		PipelineID: ev.PipelineID,
		JobID:      ev.JobID,
		JobType:    string(ev.JobType),
		OwnerID:    ev.OwnerID,
		Status:     ev.Status,
		Progress:   ev.Progress,
		Message:    ev.Message,
		Timestamp:  ev.Timestamp,
	}
}
