package profile

import (
	"context"
	"errors"
	"log"
	"strings"

	"health-companion/internal/apperr"
	"health-companion/internal/datefacts"
	"health-companion/internal/remote"
	"health-companion/internal/session"
)

type Remote interface {
	Post(ctx context.Context, op, endpoint string, body, out any) error
}

// Session is the part of session.Store that profile mutations need.
type Session interface {
	UserID() (int64, error)
	UpdateCached(ctx context.Context, patch session.Patch) (session.User, error)
	Logout(ctx context.Context) error
}

type Endpoints struct {
	Profile  string
	Advanced string
}

type Service struct {
	remote    Remote
	session   Session
	endpoints Endpoints
}

func NewService(r Remote, s Session, e Endpoints) *Service {
	return &Service{remote: r, session: s, endpoints: e}
}

type medicalCardRequest struct {
	Action            string `json:"action"`
	UserID            int64  `json:"userId"`
	MedicalCardNumber string `json:"medicalCardNumber"`
}

func (s *Service) UpdateMedicalCard(ctx context.Context, number string) (session.User, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return session.User{}, apperr.Validation("medicalCard", "medicalCardNumber")
	}
	userID, err := s.session.UserID()
	if err != nil {
		return session.User{}, err
	}

	var resp remote.Envelope
	req := medicalCardRequest{Action: "updateMedicalCard", UserID: userID, MedicalCardNumber: number}
	if err := s.remote.Post(ctx, "profile.updateMedicalCard", s.endpoints.Profile, req, &resp); err != nil {
		return session.User{}, err
	}
	if !resp.Success {
		return session.User{}, &apperr.TransportError{Op: "profile.updateMedicalCard", Err: errors.New(resp.Reason())}
	}
	return s.session.UpdateCached(ctx, session.Patch{MedicalCardNumber: &number})
}

// Update carries the editable profile fields. Nil fields are left unchanged.
type Update struct {
	FirstName      *string `json:"firstName,omitempty"`
	LastName       *string `json:"lastName,omitempty"`
	MiddleName     *string `json:"middleName,omitempty"`
	Email          *string `json:"email,omitempty"`
	BirthDate      *string `json:"birthDate,omitempty"`
	SosPinCode     *string `json:"sosPinCode,omitempty"`
	City           *string `json:"city,omitempty"`
	Street         *string `json:"street,omitempty"`
	House          *string `json:"house,omitempty"`
	UtilityAccount *string `json:"utilityAccount,omitempty"`
}

func (u Update) empty() bool {
	return u == Update{}
}

func (u Update) validate() error {
	if u.empty() {
		return apperr.Invalid("profile", "no fields to update")
	}
	var blank []string
	check := func(name string, v *string) {
		if v != nil && strings.TrimSpace(*v) == "" {
			blank = append(blank, name)
		}
	}
	check("firstName", u.FirstName)
	check("lastName", u.LastName)
	check("birthDate", u.BirthDate)
	check("sosPinCode", u.SosPinCode)
	if len(blank) > 0 {
		return apperr.Validation("profile", blank...)
	}
	if u.BirthDate != nil {
		if _, err := datefacts.Parse(*u.BirthDate); err != nil {
			return apperr.Invalid("profile", err.Error())
		}
	}
	return nil
}

func (u Update) patch() session.Patch {
	return session.Patch{
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		MiddleName:     u.MiddleName,
		Email:          u.Email,
		BirthDate:      u.BirthDate,
		City:           u.City,
		Street:         u.Street,
		House:          u.House,
		UtilityAccount: u.UtilityAccount,
		SosPinCode:     u.SosPinCode,
	}
}

type updateProfileRequest struct {
	Action string `json:"action"`
	UserID int64  `json:"userId"`
	Update
}

func (s *Service) UpdateProfile(ctx context.Context, u Update) (session.User, error) {
	if err := u.validate(); err != nil {
		return session.User{}, err
	}
	userID, err := s.session.UserID()
	if err != nil {
		return session.User{}, err
	}

	var resp remote.Envelope
	req := updateProfileRequest{Action: "updateProfile", UserID: userID, Update: u}
	if err := s.remote.Post(ctx, "advanced.updateProfile", s.endpoints.Advanced, req, &resp); err != nil {
		return session.User{}, err
	}
	if !resp.Success {
		return session.User{}, &apperr.TransportError{Op: "advanced.updateProfile", Err: errors.New(resp.Reason())}
	}
	user, err := s.session.UpdateCached(ctx, u.patch())
	if err != nil {
		return session.User{}, err
	}
	log.Printf("profile: updated user %d", userID)
	return user, nil
}

type deleteAccountRequest struct {
	Action string `json:"action"`
	UserID int64  `json:"userId"`
}

func (s *Service) DeleteAccount(ctx context.Context) error {
	userID, err := s.session.UserID()
	if err != nil {
		return err
	}
	var resp remote.Envelope
	if err := s.remote.Post(ctx, "advanced.deleteAccount", s.endpoints.Advanced, deleteAccountRequest{Action: "deleteAccount", UserID: userID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &apperr.TransportError{Op: "advanced.deleteAccount", Err: errors.New(resp.Reason())}
	}
	log.Printf("profile: deleted account %d", userID)
	return s.session.Logout(ctx)
}
