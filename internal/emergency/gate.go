package emergency

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"health-companion/internal/apperr"
	"health-companion/internal/metrics"
	"health-companion/internal/session"
)

type State string

const (
	Idle       State = "idle"
	Confirming State = "confirming"
	Triggered  State = "triggered"
)

var (
	ErrAlreadyTriggered = errors.New("sos already triggered")
	ErrNotConfirming    = errors.New("sos is not awaiting confirmation")
)

// Session supplies the acting user and checks the entered PIN.
type Session interface {
	Current() (session.User, bool)
	VerifyPin(pin string) error
}

// Alert is what gets delivered to the caregiver once the gate fires.
type Alert struct {
	User session.User
	At   time.Time
}

type Alerter interface {
	SendAlert(ctx context.Context, a Alert) error
}

// Gate guards the emergency trigger behind an explicit confirmation and,
// unless disabled, the user's SOS PIN.
type Gate struct {
	session    Session
	alerter    Alerter
	requirePin bool
	metrics    *metrics.Collectors
	now        func() time.Time

	mu    sync.Mutex
	state State
}

func NewGate(s Session, a Alerter, requirePin bool, m *metrics.Collectors) *Gate {
	return &Gate{
		session:    s,
		alerter:    a,
		requirePin: requirePin,
		metrics:    m,
		now:        time.Now,
		state:      Idle,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) RequiresPin() bool { return g.requirePin }

func (g *Gate) setLocked(s State) {
	g.state = s
	g.metrics.ObserveSOS(string(s))
}

// Begin opens the confirmation step. Calling it while confirming is a no-op.
func (g *Gate) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Triggered:
		return ErrAlreadyTriggered
	case Idle:
		g.setLocked(Confirming)
	}
	return nil
}

func (g *Gate) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Triggered:
		return ErrAlreadyTriggered
	case Confirming:
		g.setLocked(Idle)
	}
	return nil
}

func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		g.setLocked(Idle)
	}
}

// Trigger fires the alert. With the PIN requirement on it only works from
// Confirming and a wrong PIN leaves the gate there. Without it the gate
// fires from Idle as well and the pin argument is ignored.
func (g *Gate) Trigger(ctx context.Context, pin string) error {
	g.mu.Lock()
	prev := g.state
	switch {
	case prev == Triggered:
		g.mu.Unlock()
		return ErrAlreadyTriggered
	case prev != Confirming && g.requirePin:
		g.mu.Unlock()
		return ErrNotConfirming
	}

	user, ok := g.session.Current()
	if !ok {
		g.mu.Unlock()
		return apperr.ErrNoSession
	}
	if g.requirePin {
		if err := g.session.VerifyPin(pin); err != nil {
			g.mu.Unlock()
			return err
		}
	}
	// Claim the transition before sending so a concurrent Trigger cannot fire twice.
	g.setLocked(Triggered)
	g.mu.Unlock()

	alert := Alert{User: user, At: g.now()}
	if err := g.alerter.SendAlert(ctx, alert); err != nil {
		g.mu.Lock()
		if g.state == Triggered {
			g.setLocked(Confirming)
		}
		g.mu.Unlock()
		log.Printf("emergency: alert delivery for user %d failed: %v", user.ID, err)
		return &apperr.TransportError{Op: "emergency.alert", Err: err}
	}
	log.Printf("emergency: sos triggered for user %d", user.ID)
	return nil
}
