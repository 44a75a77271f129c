package emergency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"health-companion/internal/apperr"
	"health-companion/internal/session"
)

type fakeSession struct {
	user    session.User
	active  bool
	pin     string
	havePin bool
}

func (f *fakeSession) Current() (session.User, bool) { return f.user, f.active }

func (f *fakeSession) VerifyPin(pin string) error {
	if !f.active {
		return apperr.ErrNoSession
	}
	if !f.havePin {
		return apperr.ErrPinUnavailable
	}
	if pin != f.pin {
		return &apperr.PinMismatchError{}
	}
	return nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingAlerter) SendAlert(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newSession() *fakeSession {
	return &fakeSession{
		user:    session.User{ID: 7, Phone: "+79990000001", FirstName: "Anna", LastName: "Petrova"},
		active:  true,
		pin:     "4321",
		havePin: true,
	}
}

func TestTriggerWithCorrectPin(t *testing.T) {
	alerts := &recordingAlerter{}
	g := NewGate(newSession(), alerts, true, nil)
	ctx := context.Background()

	if err := g.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if g.State() != Confirming {
		t.Fatalf("expected confirming, got %s", g.State())
	}
	if err := g.Trigger(ctx, "4321"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if g.State() != Triggered || alerts.count() != 1 {
		t.Fatalf("expected triggered with one alert, got %s / %d", g.State(), alerts.count())
	}
	if alerts.alerts[0].User.ID != 7 {
		t.Fatalf("unexpected alert %+v", alerts.alerts[0])
	}

	if err := g.Trigger(ctx, "4321"); !errors.Is(err, ErrAlreadyTriggered) {
		t.Fatalf("expected ErrAlreadyTriggered, got %v", err)
	}
	if err := g.Begin(); !errors.Is(err, ErrAlreadyTriggered) {
		t.Fatalf("expected ErrAlreadyTriggered from begin, got %v", err)
	}
	g.Reset()
	if g.State() != Idle {
		t.Fatalf("expected idle after reset, got %s", g.State())
	}
}

func TestWrongPinStaysConfirming(t *testing.T) {
	alerts := &recordingAlerter{}
	g := NewGate(newSession(), alerts, true, nil)
	g.Begin()

	err := g.Trigger(context.Background(), "0000")
	if !apperr.IsPinMismatch(err) {
		t.Fatalf("expected pin mismatch, got %v", err)
	}
	if g.State() != Confirming || alerts.count() != 0 {
		t.Fatalf("expected confirming without alert, got %s / %d", g.State(), alerts.count())
	}
	if err := g.Trigger(context.Background(), "4321"); err != nil {
		t.Fatalf("retry with correct pin: %v", err)
	}
}

func TestTriggerRequiresConfirmation(t *testing.T) {
	g := NewGate(newSession(), &recordingAlerter{}, true, nil)
	if err := g.Trigger(context.Background(), "4321"); !errors.Is(err, ErrNotConfirming) {
		t.Fatalf("expected ErrNotConfirming, got %v", err)
	}
	g.Begin()
	g.Cancel()
	if g.State() != Idle {
		t.Fatalf("expected idle after cancel, got %s", g.State())
	}
}

func TestPinUnavailable(t *testing.T) {
	sess := newSession()
	sess.havePin = false
	g := NewGate(sess, &recordingAlerter{}, true, nil)
	g.Begin()

	if err := g.Trigger(context.Background(), "4321"); !errors.Is(err, apperr.ErrPinUnavailable) {
		t.Fatalf("expected ErrPinUnavailable, got %v", err)
	}
	if g.State() != Confirming {
		t.Fatalf("expected confirming, got %s", g.State())
	}
}

func TestPinNotRequired(t *testing.T) {
	sess := newSession()
	sess.havePin = false
	alerts := &recordingAlerter{}
	g := NewGate(sess, alerts, false, nil)

	if err := g.Trigger(context.Background(), ""); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if g.State() != Triggered || alerts.count() != 1 {
		t.Fatalf("expected triggered with alert, got %s / %d", g.State(), alerts.count())
	}
}

func TestNoSession(t *testing.T) {
	sess := newSession()
	sess.active = false
	g := NewGate(sess, &recordingAlerter{}, true, nil)
	g.Begin()
	if err := g.Trigger(context.Background(), "4321"); !errors.Is(err, apperr.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	alerts := &recordingAlerter{err: errors.New("telegram down")}
	g := NewGate(newSession(), alerts, true, nil)
	g.Begin()

	if err := g.Trigger(context.Background(), "4321"); !apperr.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if g.State() != Confirming {
		t.Fatalf("expected rollback to confirming, got %s", g.State())
	}
}

func TestTelegramAlerterFormatsMessage(t *testing.T) {
	var chat int64
	var text string
	tg := messengerFunc(func(_ context.Context, chatID int64, msg string) error {
		chat, text = chatID, msg
		return nil
	})
	user := session.User{ID: 7, Phone: "+7999", FirstName: "Anna", LastName: "Petrova", City: "Kazan", House: "12"}
	at := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	if err := NewTelegramAlerter(tg, 100).SendAlert(context.Background(), Alert{User: user, At: at}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if chat != 100 {
		t.Fatalf("expected caregiver chat, got %d", chat)
	}
	for _, want := range []string{"Petrova Anna", "+7999", "Kazan, 12", "15.03.2024 09:30"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

type messengerFunc func(ctx context.Context, chatID int64, text string) error

func (f messengerFunc) SendMessage(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}
