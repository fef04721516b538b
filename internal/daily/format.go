package daily

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dkrylov/spreadwatch/internal/models"
)

const (
	summaryHeader = "СПРЕДЫ ЗА ДЕНЬ"
	headerDate    = "02.01.2006"
	clockLayout   = "15:04:05"
)

// RenderSummary formats the day's events as the pinned message body.
// Lines are ordered by end time, so a merged event that was extended
// moves past entries that finished earlier. Times are rendered in loc.
func RenderSummary(events []*models.CompletedEvent, day time.Time, loc *time.Location) string {
	ordered := make([]*models.CompletedEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EndTime.Before(ordered[j].EndTime)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s %s</b>\n", summaryHeader, day.Format(headerDate))
	for _, ev := range ordered {
		b.WriteString("\n")
		b.WriteString(renderLine(ev, loc))
	}
	return b.String()
}

func renderLine(ev *models.CompletedEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.2f%%", ev.Symbol, ev.MaxSpread)
	if ev.PositionLimit > 0 {
		fmt.Fprintf(&b, " [%s USDT]", FormatThousands(ev.PositionLimit))
	}
	fmt.Fprintf(&b, " %s %s - %s",
		FormatDuration(ev.DurationSeconds),
		ev.StartTime.In(loc).Format(clockLayout),
		ev.EndTime.In(loc).Format(clockLayout))
	return b.String()
}

// FormatDuration renders seconds as "1ч 2м 3с", omitting leading zero
// units.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, strconv.Itoa(h)+"ч")
	}
	if h > 0 || m > 0 {
		parts = append(parts, strconv.Itoa(m)+"м")
	}
	parts = append(parts, strconv.Itoa(s)+"с")
	return strings.Join(parts, " ")
}

// FormatThousands renders n with space-separated thousand groups.
func FormatThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// IsSummary reports whether text looks like a summary message for the
// given day.
func IsSummary(text string, day time.Time) bool {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	return strings.Contains(first, summaryHeader) &&
		strings.Contains(first, day.Format(headerDate))
}

// ParseSummary rebuilds events from a summary message that came back
// from the chat as plain text (no HTML tags). Lines that cannot be
// parsed are skipped. Returns false when the text is not a summary at
// all.
func ParseSummary(text string, loc *time.Location) ([]*models.CompletedEvent, bool) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil, false
	}

	header := strings.TrimSpace(lines[0])
	header = strings.TrimPrefix(header, "<b>")
	header = strings.TrimSuffix(header, "</b>")
	if !strings.HasPrefix(header, summaryHeader) {
		return nil, false
	}
	dateStr := strings.TrimSpace(strings.TrimPrefix(header, summaryHeader))
	day, err := time.ParseInLocation(headerDate, dateStr, loc)
	if err != nil {
		return nil, false
	}
	dayKey := day.Format("2006-01-02")

	var events []*models.CompletedEvent
	for _, line := range lines[1:] {
		ev, ok := parseLine(strings.TrimSpace(line), day, loc)
		if !ok {
			continue
		}
		ev.DayKey = dayKey
		ev.Seq = len(events) + 1
		events = append(events, ev)
	}
	return events, true
}

func parseLine(line string, day time.Time, loc *time.Location) (*models.CompletedEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, false
	}

	symbol := fields[0]
	pct := fields[1]
	if !strings.HasSuffix(pct, "%") {
		return nil, false
	}
	spread, err := strconv.ParseFloat(strings.TrimSuffix(pct, "%"), 64)
	if err != nil {
		return nil, false
	}

	i := 2
	limit := 0
	if strings.HasPrefix(fields[i], "[") {
		var digits strings.Builder
		for ; i < len(fields); i++ {
			digits.WriteString(strings.Trim(fields[i], "[]"))
			if strings.HasSuffix(fields[i], "]") {
				i++
				break
			}
		}
		limit, _ = strconv.Atoi(strings.TrimSuffix(digits.String(), "USDT"))
	}

	duration := 0
	for ; i < len(fields); i++ {
		sec, ok := parseDurationPart(fields[i])
		if !ok {
			break
		}
		duration += sec
	}

	// What remains must be "HH:MM:SS - HH:MM:SS".
	if len(fields)-i != 3 || fields[i+1] != "-" {
		return nil, false
	}
	start, err1 := clockOnDay(fields[i], day, loc)
	end, err2 := clockOnDay(fields[i+2], day, loc)
	if err1 != nil || err2 != nil {
		return nil, false
	}

	return &models.CompletedEvent{
		Symbol:          symbol,
		MaxSpread:       spread,
		DurationSeconds: duration,
		StartTime:       start,
		EndTime:         end,
		PositionLimit:   limit,
	}, true
}

func parseDurationPart(s string) (int, bool) {
	for suffix, mult := range map[string]int{"ч": 3600, "м": 60, "с": 1} {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, false
			}
			return n * mult, true
		}
	}
	return 0, false
}

func clockOnDay(s string, day time.Time, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(clockLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}
