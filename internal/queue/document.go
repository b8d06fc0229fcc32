package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EventSaved         = "saved"
	EventDeleted       = "deleted"
	EventStatusChanged = "status"
	EventCheckedIn     = "checkin"
)

var DocumentEventTopic = "cdr.documents"

// Event describes one committed change to a document.
type Event struct {
	Type    string    `json:"type"`
	DocID   string    `json:"doc_id"`
	DocType string    `json:"doc_type"`
	Version int       `json:"version,omitempty"`
	Status  string    `json:"status,omitempty"`
	User    string    `json:"user"`
	At      time.Time `json:"at"`
}

func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type DocumentQueue interface {
	// PublishChange appends a document change to the queue.
	PublishChange(ctx context.Context, event *Event) error
	Close()
}

var _ DocumentQueue = NopQueue{}

// NopQueue drops every event.
type NopQueue struct{}

func (NopQueue) PublishChange(ctx context.Context, event *Event) error {
	logrus.Debugf("dropping %s event for %s", event.Type, event.DocID)
	return nil
}

func (NopQueue) Close() {}
