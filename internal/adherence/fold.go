package adherence

import (
	"sort"

	"github.com/samber/lo"
)

// DaySummary counts the events of one medication on one calendar day.
type DaySummary struct {
	Day          string `json:"day"`
	MedicationID int64  `json:"medicationId"`
	Taken        int    `json:"taken"`
	Skipped      int    `json:"skipped"`
}

type dayKey struct {
	day          string
	medicationID int64
}

// FoldByDay builds a read-model from an event stream. Every event counts,
// duplicates included. Days are UTC.
func FoldByDay(events []Event) []DaySummary {
	groups := lo.GroupBy(events, func(ev Event) dayKey {
		return dayKey{day: ev.Timestamp.UTC().Format("2006-01-02"), medicationID: ev.MedicationID}
	})

	out := lo.MapToSlice(groups, func(k dayKey, evs []Event) DaySummary {
		skipped := lo.CountBy(evs, func(ev Event) bool { return ev.Skipped })
		return DaySummary{
			Day:          k.day,
			MedicationID: k.medicationID,
			Taken:        len(evs) - skipped,
			Skipped:      skipped,
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].MedicationID < out[j].MedicationID
	})
	return out
}
