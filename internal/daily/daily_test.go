package daily

import (
	"strings"
	"testing"
	"time"

	"github.com/dkrylov/spreadwatch/internal/models"
)

var msk = time.FixedZone("MSK", 3*3600)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAggregator_AddAndMerge(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)

	start := now
	end := start.Add(90 * time.Second)
	a.Add("BTC", 3.5, start, end, 1000)

	// Ends 2 minutes after the first one, inside the merge gap.
	start2 := end.Add(2 * time.Minute)
	end2 := start2.Add(60 * time.Second)
	a.Add("BTC", 4.2, start2, end2, 1200)

	events := a.Events()
	if len(events) != 1 {
		t.Fatalf("expected merged single event, got %d", len(events))
	}
	ev := events[0]
	if ev.MaxSpread != 4.2 {
		t.Errorf("MaxSpread = %v, want 4.2", ev.MaxSpread)
	}
	// 90s + 120s gap + 60s.
	if ev.DurationSeconds != 270 {
		t.Errorf("DurationSeconds = %d, want 270", ev.DurationSeconds)
	}
	if !ev.StartTime.Equal(start) || !ev.EndTime.Equal(end2) {
		t.Errorf("merged span wrong: %v - %v", ev.StartTime, ev.EndTime)
	}

	// Beyond the gap a new line appears.
	start3 := end2.Add(5 * time.Minute)
	a.Add("BTC", 3.1, start3, start3.Add(time.Minute), 0)
	if got := a.Len(); got != 2 {
		t.Errorf("expected 2 lines after gap, got %d", got)
	}

	// Other symbols never merge.
	a.Add("ETH", 3.3, start2, end2, 0)
	if got := a.Len(); got != 3 {
		t.Errorf("expected 3 lines, got %d", got)
	}
}

func TestAggregator_MergeGapBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)

	end := now.Add(90 * time.Second)
	a.Add("BTC", 3.5, now, end, 0)

	// A gap of exactly the merge limit still merges.
	start2 := end.Add(DefaultMergeGap)
	a.Add("BTC", 3.0, start2, start2.Add(time.Minute), 0)
	if got := a.Len(); got != 1 {
		t.Fatalf("gap equal to the limit should merge, got %d lines", got)
	}

	// One second past the limit starts a new line.
	end2 := a.Events()[0].EndTime
	start3 := end2.Add(DefaultMergeGap + time.Second)
	a.Add("BTC", 3.0, start3, start3.Add(time.Minute), 0)
	if got := a.Len(); got != 2 {
		t.Errorf("gap past the limit should not merge, got %d lines", got)
	}
}

func TestAggregator_RenderOrdersByEndTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)

	a.Add("BTC", 3.5, now, now.Add(90*time.Second), 0)
	a.Add("ETH", 3.2, now.Add(2*time.Minute), now.Add(3*time.Minute), 0)

	// BTC resumes inside the merge gap, so its line now ends after ETH's.
	a.Add("BTC", 4.0, now.Add(4*time.Minute), now.Add(5*time.Minute+30*time.Second), 0)

	text := a.Render()
	eth := strings.Index(text, "ETH")
	btc := strings.Index(text, "BTC")
	if eth < 0 || btc < 0 {
		t.Fatalf("summary missing a line:\n%s", text)
	}
	if btc < eth {
		t.Errorf("lines should be ordered by end time, ETH first:\n%s", text)
	}
	if !strings.Contains(text, "10:00:00 - 10:05:30") {
		t.Errorf("merged BTC span not rendered:\n%s", text)
	}
}

func TestAggregator_Rollover(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 50, 0, 0, msk)
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)
	a.Add("BTC", 3.5, now, now.Add(time.Minute), 0)

	a.now = fixedNow(now.Add(20 * time.Minute))
	if !a.RolledOver() {
		t.Fatal("expected rollover past local midnight")
	}
	if a.Len() != 0 {
		t.Error("ledger should be empty after rollover")
	}
	if a.DayKey() != "2024-03-02" {
		t.Errorf("DayKey = %s, want 2024-03-02", a.DayKey())
	}
}

func TestAggregator_RemoveSymbol(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)
	a.Add("BTC", 3.5, now, now.Add(time.Minute), 0)
	a.Add("ETH", 3.1, now, now.Add(time.Minute), 0)
	a.Add("BTC", 4.0, now.Add(time.Hour), now.Add(time.Hour+time.Minute), 0)

	if n := a.RemoveSymbol("BTC"); n != 2 {
		t.Errorf("removed %d lines, want 2", n)
	}
	events := a.Events()
	if len(events) != 1 || events[0].Symbol != "ETH" {
		t.Errorf("unexpected remaining events: %+v", events)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{5, "5с"},
		{65, "1м 5с"},
		{60, "1м 0с"},
		{3665, "1ч 1м 5с"},
		{7200, "2ч 0м 0с"},
		{0, "0с"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.seconds); got != c.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", c.seconds, got, c.want)
		}
	}
}

func TestFormatThousands(t *testing.T) {
	cases := map[int]string{
		7:       "7",
		999:     "999",
		1234:    "1 234",
		1234567: "1 234 567",
	}
	for n, want := range cases {
		if got := FormatThousands(n); got != want {
			t.Errorf("FormatThousands(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, msk)
	events := []*models.CompletedEvent{
		{
			Symbol:          "BTC",
			MaxSpread:       3.5,
			DurationSeconds: 65,
			StartTime:       time.Date(2024, 3, 1, 10, 25, 30, 0, msk),
			EndTime:         time.Date(2024, 3, 1, 10, 41, 0, 0, msk),
			PositionLimit:   1234,
		},
		{
			Symbol:          "ETHFI",
			MaxSpread:       12.07,
			DurationSeconds: 3700,
			StartTime:       time.Date(2024, 3, 1, 11, 0, 0, 0, msk),
			EndTime:         time.Date(2024, 3, 1, 12, 1, 40, 0, msk),
		},
	}

	text := RenderSummary(events, day, msk)
	if !strings.HasPrefix(text, "<b>СПРЕДЫ ЗА ДЕНЬ 01.03.2024</b>") {
		t.Fatalf("bad header: %q", text)
	}
	if !strings.Contains(text, "BTC 3.50% [1 234 USDT] 1м 5с 10:25:30 - 10:41:00") {
		t.Errorf("bad BTC line in %q", text)
	}
	if !strings.Contains(text, "ETHFI 12.07% 1ч 1м 40с 11:00:00 - 12:01:40") {
		t.Errorf("bad ETHFI line in %q", text)
	}

	if !IsSummary(text, day) {
		t.Error("IsSummary should match rendered text")
	}
	if IsSummary(text, day.AddDate(0, 0, 1)) {
		t.Error("IsSummary should not match another day")
	}

	// Chat echoes the text back without HTML tags.
	plain := strings.NewReplacer("<b>", "", "</b>", "").Replace(text)
	parsed, ok := ParseSummary(plain, msk)
	if !ok {
		t.Fatal("ParseSummary rejected its own output")
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d events, want 2", len(parsed))
	}
	for i, ev := range parsed {
		want := events[i]
		if ev.Symbol != want.Symbol ||
			ev.MaxSpread != want.MaxSpread ||
			ev.DurationSeconds != want.DurationSeconds ||
			ev.PositionLimit != want.PositionLimit ||
			!ev.StartTime.Equal(want.StartTime) ||
			!ev.EndTime.Equal(want.EndTime) {
			t.Errorf("event %d: got %+v, want %+v", i, ev, want)
		}
	}
}

func TestParseSummary_Rejects(t *testing.T) {
	if _, ok := ParseSummary("just a chat message", msk); ok {
		t.Error("plain text should not parse as summary")
	}
	if _, ok := ParseSummary("СПРЕДЫ ЗА ДЕНЬ not-a-date", msk); ok {
		t.Error("bad header date should not parse")
	}
}

type fakeSink struct {
	nextHandle int
	sendErrs   int
	messages   map[int]string
	pinned     []int
	deleted    map[int]bool
	editCalls  int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		nextHandle: 100,
		messages:   make(map[int]string),
		deleted:    make(map[int]bool),
	}
}

func (f *fakeSink) Send(text string) (int, error) {
	if f.sendErrs > 0 {
		f.sendErrs--
		return 0, errTransient
	}
	f.nextHandle++
	f.messages[f.nextHandle] = text
	return f.nextHandle, nil
}

func (f *fakeSink) Edit(handle int, text string) models.UpdateResult {
	f.editCalls++
	if f.deleted[handle] {
		return models.UpdateDeleted
	}
	if f.messages[handle] == text {
		return models.UpdateUnmodified
	}
	f.messages[handle] = text
	return models.UpdateOK
}

func (f *fakeSink) Pin(handle int) error {
	f.pinned = append(f.pinned, handle)
	return nil
}

func (f *fakeSink) FindPinned(match func(string) bool) (int, string, bool) {
	for _, h := range f.pinned {
		if text, ok := f.messages[h]; ok && !f.deleted[h] && match(text) {
			return h, text, true
		}
	}
	return 0, "", false
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "temporarily unavailable" }

func newTestSummary(t *testing.T, now time.Time, sink SummarySink) (*Summary, *Aggregator) {
	t.Helper()
	a := NewAggregator(msk, DefaultMergeGap, nil)
	a.now = fixedNow(now)
	a.dayKey = a.keyFor(now)
	s := NewSummary(a, sink)
	s.now = fixedNow(now)
	s.sleep = func(time.Duration) {}
	return s, a
}

func TestSummary_RefreshCreatesAndEdits(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	sink := newFakeSink()
	s, a := newTestSummary(t, now, sink)

	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(sink.pinned) != 1 {
		t.Fatalf("expected 1 pin, got %d", len(sink.pinned))
	}
	handle := s.handle

	// Unchanged ledger means no edit call.
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sink.editCalls != 0 {
		t.Errorf("no-op refresh should skip edit, got %d calls", sink.editCalls)
	}

	a.Add("BTC", 3.5, now, now.Add(time.Minute), 0)
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if s.handle != handle {
		t.Error("edit should keep the same message")
	}
	if !strings.Contains(sink.messages[handle], "BTC") {
		t.Error("edited message missing new line")
	}
}

func TestSummary_DeletedMessageStaysGoneUntilNextDay(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	sink := newFakeSink()
	s, a := newTestSummary(t, now, sink)

	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	old := s.handle
	sink.deleted[old] = true

	// The channel owner removed the summary; the same day never gets a
	// second one, no matter how often the ledger changes.
	a.Add("BTC", 3.5, now, now.Add(time.Minute), 0)
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh after delete: %v", err)
	}
	a.Add("ETH", 3.1, now.Add(time.Hour), now.Add(time.Hour+time.Minute), 0)
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh after delete: %v", err)
	}
	if len(sink.pinned) != 1 {
		t.Errorf("deleted summary must not be recreated same day, pins = %v", sink.pinned)
	}
	if s.handle != 0 {
		t.Errorf("handle should stay cleared, got %d", s.handle)
	}

	// The next day starts a fresh message as usual.
	later := now.AddDate(0, 0, 1)
	a.now = fixedNow(later)
	s.now = fixedNow(later)
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh next day: %v", err)
	}
	if len(sink.pinned) != 2 {
		t.Errorf("new day should pin a new summary, pins = %v", sink.pinned)
	}
	if s.handle == 0 || s.handle == old {
		t.Errorf("new day should create a new message, handle = %d", s.handle)
	}
}

func TestSummary_CreateRetries(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, msk)
	sink := newFakeSink()
	sink.sendErrs = 2
	s, _ := newTestSummary(t, now, sink)

	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh should survive transient send errors: %v", err)
	}

	sink2 := newFakeSink()
	sink2.sendErrs = createAttempts
	s2, _ := newTestSummary(t, now, sink2)
	if err := s2.Refresh(); err == nil {
		t.Error("Refresh should fail when every create attempt fails")
	}
}

func TestSummary_Recover(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, msk)
	sink := newFakeSink()

	// A summary from a previous run sits pinned in the chat.
	text := "СПРЕДЫ ЗА ДЕНЬ 01.03.2024\n\nBTC 3.50% 1м 5с 10:25:30 - 10:26:35"
	handle, _ := sink.Send(text)
	_ = sink.Pin(handle)

	s, a := newTestSummary(t, now, sink)
	s.Recover()

	if s.handle != handle {
		t.Errorf("recovered handle = %d, want %d", s.handle, handle)
	}
	events := a.Events()
	if len(events) != 1 || events[0].Symbol != "BTC" || events[0].DurationSeconds != 65 {
		t.Errorf("ledger not restored from pinned text: %+v", events)
	}
}
