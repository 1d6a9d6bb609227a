package ingestmodel

// EventMeta is attached to every event flowing through the bus.
//
// Invariant: TsEvent <= TsIngest + clock-skew tolerance (enforced by callers
// that construct EventMeta from a live clock, not by this type itself).
// Invariant: CorrelationID propagates unchanged through InheritMeta.
type EventMeta struct {
	TsEvent       int64  `json:"tsEvent"`
	TsIngest      int64  `json:"tsIngest"`
	TsExchange    *int64 `json:"tsExchange,omitempty"`
	Sequence      *uint64 `json:"sequence,omitempty"`
	Source        string `json:"source"`
	StreamID      StreamID `json:"streamId"`
	CorrelationID string `json:"correlationId"`
}

// InheritMeta derives a child EventMeta from a parent, preserving
// CorrelationID, TsEvent, TsExchange and Sequence unchanged while letting the
// caller supply a new Source/StreamID and a fresh TsIngest (observation
// time of the derivative, not the root event).
func InheritMeta(parent EventMeta, newSource string, newStream StreamID, tsIngest int64) EventMeta {
	return EventMeta{
		TsEvent:       parent.TsEvent,
		TsIngest:      tsIngest,
		TsExchange:    parent.TsExchange,
		Sequence:      parent.Sequence,
		Source:        newSource,
		StreamID:      newStream,
		CorrelationID: parent.CorrelationID,
	}
}
