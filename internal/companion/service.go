package companion

import (
	"context"
	"log"
	"sync"

	"health-companion/internal/adherence"
	"health-companion/internal/apperr"
	"health-companion/internal/datefacts"
	"health-companion/internal/emergency"
	"health-companion/internal/entity"
	"health-companion/internal/mood"
	"health-companion/internal/profile"
	"health-companion/internal/report"
	"health-companion/internal/session"
)

// Deps are the components the companion composes. All of them share the
// same session.
type Deps struct {
	Session   *session.Store
	Repos     *entity.Repositories
	Adherence *adherence.Log
	Mood      *mood.Tracker
	Profile   *profile.Service
	Gate      *emergency.Gate
	Report    *report.Service
}

type Service struct {
	Deps
	today func() datefacts.Date

	mu          sync.Mutex
	celebration *datefacts.Celebration
}

func NewService(d Deps) *Service {
	s := &Service{
		Deps:        d,
		today:       datefacts.Today,
		celebration: datefacts.NewCelebration(),
	}
	d.Session.OnLogout(func() {
		s.clearUserState()
		s.activate()
	})
	return s
}

// clearUserState drops everything derived from the previous user.
func (s *Service) clearUserState() {
	s.Repos.Reset()
	s.Adherence.Reset()
	s.Mood.Reset()
	s.Gate.Reset()
}

// switchTo starts an activation for user, clearing the previous user's
// state when the account changed without a logout in between.
func (s *Service) switchTo(prevID int64, hadPrev bool, user session.User) {
	if hadPrev && prevID != user.ID {
		log.Printf("companion: switching from user %d to %d", prevID, user.ID)
		s.clearUserState()
	}
	s.activate()
}

// activate starts a new birthday activation.
func (s *Service) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.celebration = datefacts.NewCelebration()
}

func (s *Service) Register(ctx context.Context, reg session.Registration) (session.User, error) {
	prev, hadPrev := s.Session.Current()
	user, err := s.Session.Register(ctx, reg)
	if err != nil {
		return session.User{}, err
	}
	s.switchTo(prev.ID, hadPrev, user)
	return user, nil
}

func (s *Service) Login(ctx context.Context, phone string) (session.User, error) {
	prev, hadPrev := s.Session.Current()
	user, err := s.Session.Login(ctx, phone)
	if err != nil {
		return session.User{}, err
	}
	s.switchTo(prev.ID, hadPrev, user)
	return user, nil
}

// Restore loads the persisted session at startup and refreshes it when it
// is stale. A failed refresh keeps the cached user.
func (s *Service) Restore(ctx context.Context) (*session.User, error) {
	user, err := s.Session.Restore(ctx)
	if err != nil || user == nil {
		return user, err
	}
	s.activate()
	if s.Session.NeedsRefresh() {
		refreshed, err := s.Session.Refresh(ctx)
		if err != nil {
			log.Printf("companion: refresh of stale session failed, using cached user: %v", err)
			return user, nil
		}
		return &refreshed, nil
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context) error {
	return s.Session.Logout(ctx)
}

type BirthdayStatus struct {
	IsBirthday bool `json:"isBirthday"`
	Greeted    bool `json:"greeted"`
	Age        int  `json:"age"`
}

// Birthday evaluates today's birthday for the current user. Greeted is true
// only on the first check of an activation that falls on the birthday.
func (s *Service) Birthday() (BirthdayStatus, error) {
	user, ok := s.Session.Current()
	if !ok {
		return BirthdayStatus{}, apperr.ErrNoSession
	}
	birth, err := datefacts.Parse(user.BirthDate)
	if err != nil {
		return BirthdayStatus{}, apperr.Invalid("birthday", err.Error())
	}
	today := s.today()

	s.mu.Lock()
	c := s.celebration
	s.mu.Unlock()

	isBirthday, greeted := c.Check(birth, today, func() {
		log.Printf("companion: happy birthday, user %d", user.ID)
	})
	return BirthdayStatus{
		IsBirthday: isBirthday,
		Greeted:    greeted,
		Age:        datefacts.Age(birth, today),
	}, nil
}

// Summary gathers the report inputs. Lists fall back to their cached copy
// when the remote is unreachable.
func (s *Service) Summary(ctx context.Context) (report.Summary, error) {
	user, ok := s.Session.Current()
	if !ok {
		return report.Summary{}, apperr.ErrNoSession
	}
	meds, err := s.Repos.Medications.List(ctx, user.ID)
	if err != nil {
		log.Printf("companion: report uses cached medications: %v", err)
	}
	doctors, err := s.Repos.Doctors.List(ctx, user.ID)
	if err != nil {
		log.Printf("companion: report uses cached doctors: %v", err)
	}
	return report.Summary{
		User:        user,
		Mood:        s.Mood.Selected(),
		Medications: meds,
		Doctors:     doctors,
		Adherence:   adherence.FoldByDay(s.Adherence.Events(user.ID)),
		Today:       s.today(),
	}, nil
}

func (s *Service) BuildReport(ctx context.Context) ([]byte, error) {
	sum, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return s.Report.Build(sum)
}

func (s *Service) SendReport(ctx context.Context) error {
	sum, err := s.Summary(ctx)
	if err != nil {
		return err
	}
	return s.Report.Send(ctx, sum)
}
