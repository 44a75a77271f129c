package datefacts

import (
	"fmt"
	"sync"
	"time"
)

const layout = "2006-01-02"

// Date is a calendar day with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func Parse(s string) (Date, error) {
	// Remote records sometimes carry a full timestamp; only the day matters.
	if len(s) > len(layout) && (s[len(layout)] == 'T' || s[len(layout)] == ' ') {
		s = s[:len(layout)]
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return FromTime(t), nil
}

func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func Today() Date {
	return FromTime(time.Now())
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// before compares (month, day) lexicographically, ignoring the year.
func (d Date) before(other Date) bool {
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Age is the number of completed years between birth and today. A Feb 29
// birthday rolls over on Mar 1 in non-leap years.
func Age(birth, today Date) int {
	age := today.Year - birth.Year
	if today.before(birth) {
		age--
	}
	return age
}

// IsBirthdayToday reports an exact month and day match.
func IsBirthdayToday(birth, today Date) bool {
	return birth.Month == today.Month && birth.Day == today.Day
}

// Celebration runs a birthday side effect at most once per activation.
// Start a new Celebration for each login, registration or restore.
type Celebration struct {
	once  sync.Once
	fired bool
	mu    sync.Mutex
}

func NewCelebration() *Celebration {
	return &Celebration{}
}

// Check evaluates the birthday predicate and invokes greet only the first
// time it is true within this activation. It returns the predicate value and
// whether greet ran on this call.
func (c *Celebration) Check(birth, today Date, greet func()) (isBirthday, greeted bool) {
	if !IsBirthdayToday(birth, today) {
		return false, false
	}
	c.once.Do(func() {
		c.mu.Lock()
		c.fired = true
		c.mu.Unlock()
		greeted = true
		if greet != nil {
			greet()
		}
	})
	return true, greeted
}

func (c *Celebration) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}
