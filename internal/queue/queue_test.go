package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/emrgen/cdr/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

func TestEvent_Encode(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		event Event
		want  map[string]any
	}{
		{
			name:  "saved with version",
			event: Event{Type: EventSaved, DocID: "CDR0000000042", DocType: "Summary", Version: 3, User: "alice", At: at},
			want: map[string]any{
				"type": "saved", "doc_id": "CDR0000000042", "doc_type": "Summary",
				"version": float64(3), "user": "alice", "at": "2024-03-01T12:00:00Z",
			},
		},
		{
			name:  "status change",
			event: Event{Type: EventStatusChanged, DocID: "CDR0000000042", DocType: "Term", Status: "I", User: "bob", At: at},
			want: map[string]any{
				"type": "status", "doc_id": "CDR0000000042", "doc_type": "Term",
				"status": "I", "user": "bob", "at": "2024-03-01T12:00:00Z",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.event.Encode()
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNopQueue(t *testing.T) {
	var q DocumentQueue = NopQueue{}
	assert.NoError(t, q.PublishChange(context.Background(), &Event{Type: EventDeleted, DocID: "CDR1"}))
	assert.NotPanics(t, q.Close)
}
