package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"health-companion/internal/adherence"
	"health-companion/internal/datefacts"
	"health-companion/internal/entity"
	"health-companion/internal/mood"
	"health-companion/internal/session"
)

func sampleSummary() Summary {
	return Summary{
		User: session.User{
			ID:                7,
			Phone:             "+79990000001",
			FirstName:         "Анна",
			LastName:          "Петрова",
			BirthDate:         "1950-03-15",
			MedicalCardNumber: "MC-1",
		},
		Mood:        mood.Good,
		Medications: []entity.Medication{{ID: 11, Name: "Аспирин", Dosage: "100 мг", TimeSchedule: "08:00"}},
		Doctors:     []entity.Doctor{{ID: 3, FirstName: "Иван", LastName: "Смирнов", Specialty: "Кардиолог"}},
		Adherence:   []adherence.DaySummary{{Day: "2024-03-14", MedicationID: 11, Taken: 2, Skipped: 1}},
		Today:       datefacts.Date{Year: 2024, Month: 3, Day: 14},
	}
}

func TestSections(t *testing.T) {
	secs := sections(sampleSummary())
	if len(secs) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(secs))
	}
	text := ""
	for _, s := range secs {
		text += strings.Join(s.lines, "\n") + "\n"
	}
	for _, want := range []string{
		"Петрова Анна",
		"возраст: 73",
		"MC-1",
		"Хорошее",
		"Аспирин, 100 мг (08:00)",
		"Смирнов Иван, Кардиолог",
		"2024-03-14 Аспирин: принято 2, пропущено 1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in report text:\n%s", want, text)
		}
	}
}

func TestSectionsEmptyLists(t *testing.T) {
	secs := sections(Summary{User: session.User{FirstName: "A", LastName: "B"}})
	for _, s := range secs[1:] {
		if len(s.lines) != 1 || s.lines[0] != "- Нет данных." {
			t.Fatalf("expected placeholder in %q, got %v", s.title, s.lines)
		}
	}
}

type fakeTelegram struct {
	chatID int64
	data   []byte
	name   string
}

func (f *fakeTelegram) SendDocument(_ context.Context, chatID int64, data []byte, name string) error {
	f.chatID, f.data, f.name = chatID, data, name
	return nil
}

func fontAvailable() bool {
	for _, p := range DefaultFontPaths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func TestSendBuildsPDF(t *testing.T) {
	if !fontAvailable() {
		t.Skip("DejaVuSans not installed")
	}
	tg := &fakeTelegram{}
	svc := NewService(tg, 55, "")

	if err := svc.Send(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tg.chatID != 55 || tg.name != "report_7_2024-03-14.pdf" {
		t.Fatalf("unexpected delivery chat=%d name=%s", tg.chatID, tg.name)
	}
	if !bytes.HasPrefix(tg.data, []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}
}

func TestMissingFont(t *testing.T) {
	svc := &Service{fontPaths: []string{"/nonexistent/font.ttf"}}
	if _, err := svc.Build(sampleSummary()); err == nil {
		t.Fatalf("expected font error")
	}
}

func TestSendWithoutDoctorChat(t *testing.T) {
	svc := NewService(&fakeTelegram{}, 0, "")
	if err := svc.Send(context.Background(), sampleSummary()); !errors.Is(err, ErrNoDoctorChat) {
		t.Fatalf("expected ErrNoDoctorChat, got %v", err)
	}
}
