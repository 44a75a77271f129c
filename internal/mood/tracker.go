package mood

import (
	"context"
	"fmt"
	"log"
	"sync"

	"health-companion/internal/apperr"
	"health-companion/internal/metrics"
)

type Mood string

const (
	Happy   Mood = "happy"
	Good    Mood = "good"
	Neutral Mood = "neutral"
	Sad     Mood = "sad"
	Bad     Mood = "bad"
)

var All = []Mood{Happy, Good, Neutral, Sad, Bad}

func Parse(s string) (Mood, error) {
	for _, m := range All {
		if string(m) == s {
			return m, nil
		}
	}
	return "", apperr.Invalid("mood", fmt.Sprintf("unknown mood %q", s))
}

type Remote interface {
	Post(ctx context.Context, op, endpoint string, body, out any) error
}

type saveMoodRequest struct {
	Action string `json:"action"`
	UserID int64  `json:"userId"`
	Mood   Mood   `json:"mood"`
}

// Tracker submits mood selections. The selected marker is optimistic: it is
// set before the request and kept even when the request fails.
type Tracker struct {
	remote   Remote
	endpoint string
	metrics  *metrics.Collectors

	mu       sync.Mutex
	selected Mood
}

func NewTracker(r Remote, profileURL string, m *metrics.Collectors) *Tracker {
	return &Tracker{remote: r, endpoint: profileURL, metrics: m}
}

func (t *Tracker) Submit(ctx context.Context, userID int64, raw string) (err error) {
	m, err := Parse(raw)
	if err != nil {
		return err
	}
	defer func() { t.metrics.ObserveMood(string(m), err) }()

	t.mu.Lock()
	t.selected = m
	t.mu.Unlock()

	req := saveMoodRequest{Action: "saveMood", UserID: userID, Mood: m}
	if err := t.remote.Post(ctx, "profile.saveMood", t.endpoint, req, nil); err != nil {
		log.Printf("mood: save %s for user %d failed: %v", m, userID, err)
		return err
	}
	return nil
}

func (t *Tracker) Selected() Mood {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected = ""
}
