package history

import (
	"fmt"
	"strings"
	"time"
)

// Range selects the window statistics are computed over.
type Range string

const (
	Range7D  Range = "7D"
	Range30D Range = "30D"
	Range90D Range = "90D"
	RangeAll Range = "All"
)

// Ranges lists the supported ranges.
func Ranges() []Range {
	return []Range{Range7D, Range30D, Range90D, RangeAll}
}

// ParseRange accepts a range name case-insensitively. Empty means 30D.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range30D, nil
	}
	for _, r := range Ranges() {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown range %q (want 7D, 30D, 90D or All)", s)
}

// FullName is the human-readable range label.
func (r Range) FullName() string {
	switch r {
	case Range7D:
		return "Last 7 Days"
	case Range90D:
		return "Last 90 Days"
	case RangeAll:
		return "All Time"
	default:
		return "Last 30 Days"
	}
}

// DayCount is the number of detections on one calendar day.
type DayCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// GroupCount is the number of detections in a named bucket.
type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats summarizes the log over a range.
type Stats struct {
	Range         Range        `json:"range"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	Total         int          `json:"total"`
	Days          int          `json:"days"`
	DailyAverage  float64      `json:"daily_average"`
	Daily         []DayCount   `json:"daily"`
	Weekdays      []GroupCount `json:"weekdays"`
	Hours         []GroupCount `json:"hours"`
	MostActiveDay *GroupCount  `json:"most_active_day,omitempty"`
	TrendChange   float64      `json:"trend_change"`
	RecentWeek    int          `json:"recent_week"`
	PreviousWeek  int          `json:"previous_week"`
}

var weekdayKeys = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Compute builds statistics for r as of now. Day boundaries use now's
// location.
func Compute(entries []time.Time, r Range, now time.Time) Stats {
	loc := now.Location()
	entries = sorted(entries)

	start, end := bounds(entries, r, now)

	s := Stats{
		Range:    r,
		Start:    start,
		End:      end,
		Weekdays: make([]GroupCount, len(weekdayKeys)),
		Hours:    make([]GroupCount, 24),
	}

	for i, key := range weekdayKeys {
		s.Weekdays[i].Key = key
	}
	for h := range s.Hours {
		s.Hours[h].Key = hourLabel(h)
	}

	index := make(map[string]int)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		index[d.Format(time.DateOnly)] = len(s.Daily)
		s.Daily = append(s.Daily, DayCount{Date: d})
	}

	for _, e := range entries {
		if e.Before(start) || !e.Before(end) {
			continue
		}
		local := e.In(loc)
		s.Total++

		if i, ok := index[local.Format(time.DateOnly)]; ok {
			s.Daily[i].Count++
		}
		s.Weekdays[(int(local.Weekday())+6)%7].Count++
		s.Hours[local.Hour()].Count++
	}

	s.Days = len(s.Daily)
	if s.Days < 1 {
		s.Days = 1
	}
	s.DailyAverage = float64(s.Total) / float64(s.Days)

	for i := range s.Weekdays {
		if s.Weekdays[i].Count == 0 {
			continue
		}
		if s.MostActiveDay == nil || s.Weekdays[i].Count > s.MostActiveDay.Count {
			g := s.Weekdays[i]
			s.MostActiveDay = &g
		}
	}

	s.RecentWeek, s.PreviousWeek, s.TrendChange = trend(entries, now)
	return s
}

// Today counts the entries on now's calendar day.
func Today(entries []time.Time, now time.Time) int {
	start := startOfDay(now)
	end := start.AddDate(0, 0, 1)

	n := 0
	for _, e := range entries {
		if !e.Before(start) && e.Before(end) {
			n++
		}
	}
	return n
}

// FormatTrend renders a trend change as a signed percentage.
func FormatTrend(change float64) string {
	return fmt.Sprintf("%+.0f%%", change*100)
}

func bounds(entries []time.Time, r Range, now time.Time) (time.Time, time.Time) {
	end := startOfDay(now).AddDate(0, 0, 1)

	switch r {
	case Range7D:
		return end.AddDate(0, 0, -7), end
	case Range90D:
		return end.AddDate(0, 0, -90), end
	case RangeAll:
		if len(entries) == 0 {
			return startOfDay(now), end
		}
		return startOfDay(entries[0].In(now.Location())), end
	default:
		return end.AddDate(0, 0, -30), end
	}
}

// trend compares the seven days before today with the seven days before
// that. It is +1 when only the recent week has detections and 0 when neither
// does.
func trend(entries []time.Time, now time.Time) (recent, previous int, change float64) {
	today := startOfDay(now)
	weekAgo := today.AddDate(0, 0, -7)
	twoWeeksAgo := today.AddDate(0, 0, -14)

	for _, e := range entries {
		switch {
		case !e.Before(weekAgo) && e.Before(today):
			recent++
		case !e.Before(twoWeeksAgo) && e.Before(weekAgo):
			previous++
		}
	}

	switch {
	case previous > 0:
		change = float64(recent-previous) / float64(previous)
	case recent > 0:
		change = 1
	}
	return recent, previous, change
}

func hourLabel(h int) string {
	switch {
	case h == 0:
		return "12 AM"
	case h < 12:
		return fmt.Sprintf("%d AM", h)
	case h == 12:
		return "12 PM"
	default:
		return fmt.Sprintf("%d PM", h-12)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
