package emergency

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/samber/lo"
)

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramAlerter posts the alert text to the caregiver chat.
type TelegramAlerter struct {
	tg     Messenger
	chatID int64
}

func NewTelegramAlerter(tg Messenger, chatID int64) *TelegramAlerter {
	return &TelegramAlerter{tg: tg, chatID: chatID}
}

func (a *TelegramAlerter) SendAlert(ctx context.Context, alert Alert) error {
	return a.tg.SendMessage(ctx, a.chatID, FormatAlert(alert))
}

// LogAlerter only writes the alert to the log. Used when no caregiver chat is configured.
type LogAlerter struct{}

func (LogAlerter) SendAlert(_ context.Context, alert Alert) error {
	log.Printf("emergency: no caregiver chat configured, alert: %s", strings.ReplaceAll(FormatAlert(alert), "\n", " | "))
	return nil
}

func FormatAlert(alert Alert) string {
	u := alert.User
	var b strings.Builder
	fmt.Fprintf(&b, "SOS! %s needs help.\n", u.FullName())
	fmt.Fprintf(&b, "Phone: %s\n", u.Phone)
	if addr := address(u.City, u.Street, u.House); addr != "" {
		fmt.Fprintf(&b, "Address: %s\n", addr)
	}
	if u.MedicalCardNumber != "" {
		fmt.Fprintf(&b, "Medical card: %s\n", u.MedicalCardNumber)
	}
	fmt.Fprintf(&b, "Time: %s", alert.At.Format("02.01.2006 15:04"))
	return b.String()
}

func address(parts ...string) string {
	return strings.Join(lo.Compact(parts), ", ")
}
