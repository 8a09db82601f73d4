package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erp/orderboard/internal/domain/shared"
)

// OperationType is the kind of change carried by a push message
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid checks if the operation is a known OperationType
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeEvent is one push notification: the document id is authoritative and
// the full document is the new value (absent for deletes)
type ChangeEvent struct {
	OperationType OperationType   `json:"operationType"`
	DocumentID    string          `json:"documentId"`
	FullDocument  json.RawMessage `json:"fullDocument,omitempty"`
}

// HasDocument reports whether the event carries a non-null document
func (e ChangeEvent) HasDocument() bool {
	doc := strings.TrimSpace(string(e.FullDocument))
	return doc != "" && doc != "null"
}

// ErrMalformedEvent is returned for push payloads that cannot be applied
var ErrMalformedEvent = shared.NewDomainError("MALFORMED_EVENT", "Malformed push payload")

// ParseChangeEvent decodes a push message. The documentKey form used by change
// streams ({"documentKey":{"_id":...}}) is accepted as an alternative to documentId.
func ParseChangeEvent(payload []byte) (ChangeEvent, error) {
	var raw struct {
		OperationType string          `json:"operationType"`
		DocumentID    json.RawMessage `json:"documentId"`
		DocumentKey   struct {
			ID json.RawMessage `json:"_id"`
		} `json:"documentKey"`
		FullDocument json.RawMessage `json:"fullDocument"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := ChangeEvent{
		OperationType: OperationType(strings.ToLower(strings.TrimSpace(raw.OperationType))),
		FullDocument:  raw.FullDocument,
	}
	if !ev.OperationType.IsValid() {
		return ChangeEvent{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedEvent, raw.OperationType)
	}

	id := decodeID(raw.DocumentID)
	if id == "" {
		id = decodeID(raw.DocumentKey.ID)
	}
	if id == "" {
		return ChangeEvent{}, fmt.Errorf("%w: missing document id", ErrMalformedEvent)
	}
	ev.DocumentID = id

	if ev.OperationType != OperationDelete && !ev.HasDocument() {
		return ChangeEvent{}, fmt.Errorf("%w: %s without document", ErrMalformedEvent, ev.OperationType)
	}
	return ev, nil
}

// Record decodes the event's document. The event's document id is
// authoritative and overrides whatever id the document itself carries.
func (e ChangeEvent) Record(viewer Viewer) (Record, error) {
	if !e.HasDocument() {
		return Record{}, fmt.Errorf("%w: %s without document", ErrMalformedEvent, e.OperationType)
	}
	r, err := decode(e.FullDocument, e.DocumentID, viewer)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return r, nil
}
