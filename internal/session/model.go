package session

import (
	"time"

	"github.com/samber/lo"

	"health-companion/internal/apperr"
	"health-companion/internal/datefacts"
)

// User mirrors the record service's user object.
type User struct {
	ID                int64  `json:"id"`
	Phone             string `json:"phone"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	MiddleName        string `json:"middleName,omitempty"`
	Email             string `json:"email,omitempty"`
	BirthDate         string `json:"birthDate"`
	MedicalCardNumber string `json:"medicalCardNumber,omitempty"`
	City              string `json:"city,omitempty"`
	Street            string `json:"street,omitempty"`
	House             string `json:"house,omitempty"`
	UtilityAccount    string `json:"utilityAccount,omitempty"`
}

func (u User) FullName() string {
	name := u.LastName + " " + u.FirstName
	if u.MiddleName != "" {
		name += " " + u.MiddleName
	}
	return name
}

type Registration struct {
	Phone      string `json:"phone"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	Email      string `json:"email,omitempty"`
	BirthDate  string `json:"birthDate"`
	SosPinCode string `json:"sosPinCode"`
}

func (r Registration) Validate() error {
	required := []lo.Tuple2[string, string]{
		lo.T2("phone", r.Phone),
		lo.T2("firstName", r.FirstName),
		lo.T2("lastName", r.LastName),
		lo.T2("birthDate", r.BirthDate),
		lo.T2("sosPinCode", r.SosPinCode),
	}
	missing := lo.FilterMap(required, func(f lo.Tuple2[string, string], _ int) (string, bool) {
		return f.A, f.B == ""
	})
	if len(missing) > 0 {
		return apperr.Validation("registration", missing...)
	}
	if _, err := datefacts.Parse(r.BirthDate); err != nil {
		return apperr.Invalid("registration", err.Error())
	}
	return nil
}

// Patch carries the fields a profile mutation changed. Nil means untouched.
type Patch struct {
	FirstName         *string `json:"firstName,omitempty"`
	LastName          *string `json:"lastName,omitempty"`
	MiddleName        *string `json:"middleName,omitempty"`
	Email             *string `json:"email,omitempty"`
	BirthDate         *string `json:"birthDate,omitempty"`
	MedicalCardNumber *string `json:"medicalCardNumber,omitempty"`
	City              *string `json:"city,omitempty"`
	Street            *string `json:"street,omitempty"`
	House             *string `json:"house,omitempty"`
	UtilityAccount    *string `json:"utilityAccount,omitempty"`
	SosPinCode        *string `json:"sosPinCode,omitempty"`
}

func (p Patch) apply(u *User) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.MiddleName, p.MiddleName)
	set(&u.Email, p.Email)
	set(&u.BirthDate, p.BirthDate)
	set(&u.MedicalCardNumber, p.MedicalCardNumber)
	set(&u.City, p.City)
	set(&u.Street, p.Street)
	set(&u.House, p.House)
	set(&u.UtilityAccount, p.UtilityAccount)
}

// Record is the durable session entry stored under RecordKey.
type Record struct {
	User     User      `json:"user"`
	PinHash  string    `json:"pinHash,omitempty"`
	Version  int64     `json:"version"`
	SyncedAt time.Time `json:"syncedAt"`
	Token    string    `json:"token"`
}
