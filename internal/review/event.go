package review

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	KindCertificate = "certificate"
	KindActivity    = "activity"
)

// Event announces a review decision to the worker.
type Event struct {
	Kind   string
	ID     string
	Status Status
}

// Encode renders kind|id|status.
func (e Event) Encode() []byte {
	return []byte(e.Kind + "|" + e.ID + "|" + string(e.Status))
}

// DecodeEvent parses a body produced by Encode.
func DecodeEvent(body []byte) (Event, error) {
	parts := strings.Split(string(body), "|")
	if len(parts) != 3 {
		return Event{}, errors.Errorf("malformed review event %q", body)
	}
	if parts[0] != KindCertificate && parts[0] != KindActivity {
		return Event{}, errors.Errorf("unknown review kind %q", parts[0])
	}
	st, err := ParseStatus(parts[2])
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: parts[0], ID: parts[1], Status: st}, nil
}
