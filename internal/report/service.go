package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/samber/lo"
	"github.com/signintech/gopdf"

	"health-companion/internal/adherence"
	"health-companion/internal/datefacts"
	"health-companion/internal/entity"
	"health-companion/internal/mood"
	"health-companion/internal/session"
)

// DefaultFontPaths lists where DejaVuSans usually lives. It covers Cyrillic.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

var ErrNoDoctorChat = errors.New("doctor chat is not configured")

type TelegramClient interface {
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName string) error
}

// Summary is everything that goes into one health report.
type Summary struct {
	User        session.User
	Mood        mood.Mood
	Medications []entity.Medication
	Doctors     []entity.Doctor
	Adherence   []adherence.DaySummary
	Today       datefacts.Date
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	fontPaths    []string
}

// NewService builds the report service. fontPath, when set, is tried before
// DefaultFontPaths.
func NewService(tg TelegramClient, doctorChatID int64, fontPath string) *Service {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fontPaths:    paths,
	}
}

type section struct {
	title string
	lines []string
}

func sections(s Summary) []section {
	u := s.User
	patient := []string{
		fmt.Sprintf("Пациент: %s", u.FullName()),
		fmt.Sprintf("Телефон: %s", u.Phone),
	}
	if birth, err := datefacts.Parse(u.BirthDate); err == nil {
		patient = append(patient, fmt.Sprintf("Дата рождения: %s (возраст: %d)", birth, datefacts.Age(birth, s.Today)))
	}
	if u.MedicalCardNumber != "" {
		patient = append(patient, fmt.Sprintf("Медицинская карта: %s", u.MedicalCardNumber))
	}
	if s.Mood != "" {
		patient = append(patient, fmt.Sprintf("Настроение: %s", translateMood(s.Mood)))
	}

	meds := lo.Map(s.Medications, func(m entity.Medication, _ int) string {
		line := "- " + m.Name
		if m.Dosage != "" {
			line += ", " + m.Dosage
		}
		if m.TimeSchedule != "" {
			line += " (" + m.TimeSchedule + ")"
		}
		return line
	})

	doctors := lo.Map(s.Doctors, func(d entity.Doctor, _ int) string {
		return fmt.Sprintf("- %s %s, %s", d.LastName, d.FirstName, d.Specialty)
	})

	names := lo.SliceToMap(s.Medications, func(m entity.Medication) (int64, string) {
		return m.ID, m.Name
	})
	taken := lo.Map(s.Adherence, func(d adherence.DaySummary, _ int) string {
		name, ok := names[d.MedicationID]
		if !ok {
			name = fmt.Sprintf("#%d", d.MedicationID)
		}
		return fmt.Sprintf("- %s %s: принято %d, пропущено %d", d.Day, name, d.Taken, d.Skipped)
	})

	return []section{
		{title: "Пациент", lines: patient},
		{title: "Лекарства", lines: orNone(meds)},
		{title: "Врачи", lines: orNone(doctors)},
		{title: "Приём лекарств", lines: orNone(taken)},
	}
}

func orNone(lines []string) []string {
	if len(lines) == 0 {
		return []string{"- Нет данных."}
	}
	return lines
}

// Build renders the summary as an A4 PDF.
func (s *Service) Build(sum Summary) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, ensure DejaVuSans is installed or REPORT_FONT_PATH is set: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Отчёт о здоровье")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Дата: %s", sum.Today))
	pdf.Br(25)

	for _, sec := range sections(sum) {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return nil, err
		}
		pdf.Cell(nil, sec.title+":")
		pdf.Br(18)

		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return nil, err
		}
		for _, line := range sec.lines {
			wrapped, err := pdf.SplitText(line, 500)
			if err != nil {
				wrapped = []string{line}
			}
			for _, l := range wrapped {
				if pdf.GetY() > 800 {
					pdf.AddPage()
				}
				pdf.Cell(nil, l)
				pdf.Br(14)
			}
		}
		pdf.Br(12)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// Send builds the report and delivers it to the doctor chat.
func (s *Service) Send(ctx context.Context, sum Summary) error {
	if s.doctorChatID == 0 || s.tgClient == nil {
		return ErrNoDoctorChat
	}
	data, err := s.Build(sum)
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("report_%d_%s.pdf", sum.User.ID, sum.Today)
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, data, fileName); err != nil {
		log.Printf("report: sending %s failed: %v", fileName, err)
		return err
	}
	log.Printf("report: sent %s to chat %d", fileName, s.doctorChatID)
	return nil
}

func translateMood(m mood.Mood) string {
	switch m {
	case mood.Happy:
		return "Радостное"
	case mood.Good:
		return "Хорошее"
	case mood.Neutral:
		return "Нейтральное"
	case mood.Sad:
		return "Грустное"
	case mood.Bad:
		return "Плохое"
	default:
		return string(m)
	}
}
