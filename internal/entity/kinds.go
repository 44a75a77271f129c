package entity

import (
	"github.com/samber/lo"

	"health-companion/internal/datefacts"
)

type Medication struct {
	ID           int64  `json:"id,omitempty"`
	UserID       int64  `json:"userId,omitempty"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	TimeSchedule string `json:"timeSchedule,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type Doctor struct {
	ID         int64  `json:"id,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	Specialty  string `json:"specialty"`
	Phone      string `json:"phone,omitempty"`
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type Grandchild struct {
	ID         int64  `json:"id,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	BirthDate  string `json:"birthDate"`
	Gender     Gender `json:"gender"`
	Info       string `json:"info,omitempty"`
}

// Age derives the grandchild's age on the given day.
func (g Grandchild) Age(today datefacts.Date) (int, error) {
	birth, err := datefacts.Parse(g.BirthDate)
	if err != nil {
		return 0, err
	}
	return datefacts.Age(birth, today), nil
}

type Note struct {
	ID        int64  `json:"id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Endpoints are the record service URLs the kinds are bound to.
type Endpoints struct {
	Advanced      string
	Doctors       string
	Grandchildren string
}

type field struct {
	name  string
	value string
}

func missing(fields ...field) []string {
	return lo.FilterMap(fields, func(f field, _ int) (string, bool) {
		return f.name, f.value == ""
	})
}

func MedicationKind(e Endpoints) Kind[Medication] {
	return Kind[Medication]{
		Name:         "medications",
		Endpoint:     e.Advanced,
		ListAction:   "medications",
		CreateAction: "addMedication",
		ResponseKey:  "medications",
		Required: func(m Medication) []string {
			return missing(field{"name", m.Name})
		},
	}
}

func DoctorKind(e Endpoints) Kind[Doctor] {
	return Kind[Doctor]{
		Name:        "doctors",
		Endpoint:    e.Doctors,
		ResponseKey: "doctors",
		Required: func(d Doctor) []string {
			return missing(
				field{"firstName", d.FirstName},
				field{"lastName", d.LastName},
				field{"specialty", d.Specialty},
			)
		},
	}
}

func GrandchildKind(e Endpoints) Kind[Grandchild] {
	return Kind[Grandchild]{
		Name:        "grandchildren",
		Endpoint:    e.Grandchildren,
		ResponseKey: "grandchildren",
		Required: func(g Grandchild) []string {
			out := missing(
				field{"firstName", g.FirstName},
				field{"lastName", g.LastName},
				field{"birthDate", g.BirthDate},
			)
			if g.BirthDate != "" {
				if _, err := datefacts.Parse(g.BirthDate); err != nil {
					out = append(out, "birthDate")
				}
			}
			if g.Gender != GenderMale && g.Gender != GenderFemale {
				out = append(out, "gender")
			}
			return out
		},
	}
}

func NoteKind(e Endpoints) Kind[Note] {
	return Kind[Note]{
		Name:         "notes",
		Endpoint:     e.Advanced,
		ListAction:   "notes",
		CreateAction: "addNote",
		ResponseKey:  "notes",
		Required: func(n Note) []string {
			return missing(field{"title", n.Title})
		},
	}
}

// Repositories bundles one repository per kind.
type Repositories struct {
	Medications   *Repository[Medication]
	Doctors       *Repository[Doctor]
	Grandchildren *Repository[Grandchild]
	Notes         *Repository[Note]
}

func NewRepositories(e Endpoints, r Remote) *Repositories {
	return &Repositories{
		Medications:   NewRepository(MedicationKind(e), r),
		Doctors:       NewRepository(DoctorKind(e), r),
		Grandchildren: NewRepository(GrandchildKind(e), r),
		Notes:         NewRepository(NoteKind(e), r),
	}
}

func (r *Repositories) Reset() {
	r.Medications.Reset()
	r.Doctors.Reset()
	r.Grandchildren.Reset()
	r.Notes.Reset()
}
