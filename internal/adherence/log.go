package adherence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"health-companion/internal/apperr"
	"health-companion/internal/metrics"
	"health-companion/internal/remote"
)

type Remote interface {
	Post(ctx context.Context, op, endpoint string, body, out any) error
}

// Event records one taken or skipped action. Events are never edited.
type Event struct {
	ID           int64     `json:"id"`
	LocalID      uuid.UUID `json:"localId"`
	MedicationID int64     `json:"medicationId"`
	UserID       int64     `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
	Skipped      bool      `json:"skipped"`
}

type logRequest struct {
	Action       string `json:"action"`
	MedicationID int64  `json:"medicationId"`
	UserID       int64  `json:"userId"`
	Skipped      bool   `json:"skipped"`
}

type logResponse struct {
	remote.Envelope
	LogID int64 `json:"logId"`
}

// Log appends adherence events to the record service. Acknowledged events
// are also kept for this process so read-models can fold them.
type Log struct {
	remote   Remote
	endpoint string
	metrics  *metrics.Collectors
	now      func() time.Time

	mu     sync.Mutex
	events []Event
}

func NewLog(r Remote, endpoint string, m *metrics.Collectors) *Log {
	return &Log{
		remote:   r,
		endpoint: endpoint,
		metrics:  m,
		now:      time.Now,
	}
}

// LogEvent appends one event. A transport failure loses the event; it is
// neither retried nor queued.
func (l *Log) LogEvent(ctx context.Context, medicationID, userID int64, skipped bool) (ev Event, err error) {
	defer func() { l.metrics.ObserveAdherence(skipped, err) }()

	if medicationID <= 0 {
		return Event{}, apperr.Validation("medication log", "medicationId")
	}
	if userID <= 0 {
		return Event{}, apperr.Validation("medication log", "userId")
	}

	ev = Event{
		LocalID:      uuid.New(),
		MedicationID: medicationID,
		UserID:       userID,
		Timestamp:    l.now().UTC(),
		Skipped:      skipped,
	}
	var resp logResponse
	req := logRequest{Action: "logMedication", MedicationID: medicationID, UserID: userID, Skipped: skipped}
	if err := l.remote.Post(ctx, "medications.log", l.endpoint, req, &resp); err != nil {
		log.Printf("adherence: event for medication %d lost: %v", medicationID, err)
		return Event{}, err
	}
	if !resp.Success {
		return Event{}, &apperr.TransportError{Op: "medications.log", Err: errors.New(resp.Reason())}
	}
	ev.ID = resp.LogID

	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return ev, nil
}

func (l *Log) Taken(ctx context.Context, medicationID, userID int64) (Event, error) {
	return l.LogEvent(ctx, medicationID, userID, false)
}

func (l *Log) Skipped(ctx context.Context, medicationID, userID int64) (Event, error) {
	return l.LogEvent(ctx, medicationID, userID, true)
}

// Events returns the acknowledged events of one user in append order.
func (l *Log) Events(userID int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0, len(l.events))
	for _, ev := range l.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops the in-process event copies. The remote log is untouched.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
