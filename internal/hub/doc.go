// Package hub fans live scheduler events out to stream subscribers.
//
// Owners connect with one or more duplex connections and subscribe to the
// pipelines they care about; a bidirectional index keeps both directions of
// that relationship prunable. The hub plugs straight into the scheduler as an
// event sink, which is what guarantees subscribers observe a pipeline's
// events in mutation order. Inbound frames carry the small command set
// (subscribe, unsubscribe, cancel, ping); everything else is logged and
// ignored so a confused client never gets its connection dropped.
package hub
