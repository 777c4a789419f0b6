package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EventKind names a server-pushed event. The set is closed: unknown kinds are dropped.
type EventKind string

const (
	KindSessionForceEnded EventKind = "session-force-ended"
)

var (
	kinds = map[EventKind]bool{
		KindSessionForceEnded: true,
	}

	// errors
	ErrUnknownKind = errors.New("unknown event kind")
)

func (k EventKind) Known() bool {
	return kinds[k]
}

// Event is one decoded server push.
type Event struct {
	ID        string
	Kind      EventKind
	Payload   interface{}
	Timestamp time.Time
}

// SessionForceEnded is the payload of KindSessionForceEnded: a student's
// exam/attendance session was closed by staff.
type SessionForceEnded struct {
	StudentName string    `json:"studentName"`
	GradeName   string    `json:"gradeName,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Frame is the wire form of an event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode turns a frame into a typed Event.
func Decode(frame Frame) (Event, error) {
	kind := EventKind(frame.Event)
	if !kind.Known() {
		return Event{}, errors.Wrapf(ErrUnknownKind, "%q", frame.Event)
	}

	evt := Event{ID: uuid.New().String(), Kind: kind}
	switch kind {
	case KindSessionForceEnded:
		var p SessionForceEnded
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return Event{}, errors.Wrap(err, "decoding session-force-ended payload")
		}
		evt.Payload = p
		evt.Timestamp = p.Timestamp
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt, nil
}
