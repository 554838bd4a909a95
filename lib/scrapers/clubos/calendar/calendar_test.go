package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"gymassist-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parseFixture(t *testing.T, html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

var fixtureDate = time.Date(2024, 3, 12, 14, 30, 0, 0, timezone.Location)

const scriptFixture = `
<html><head><script>
var foo = 1;
var events = [
	{"id": 100, "title": "Strength Block", "start": "2024-03-12 09:00",
	 "end": "2024-03-12 10:00", "type": "personal_training",
	 "status": "confirmed", "trainerId": 77,
	 "attendees": [{"id": 5, "name": "Pat Doyle", "fundingStatus": "funded"}]},
	{"id": 101, "name": "Mobility", "start_time": "10:00 AM",
	 "member_name": "Lee Finch"},
	{"title": "no id, must be dropped", "start": "2024-03-12 11:00"},
	{"id": 103, "title": "no start, must be dropped"}
];
</script></head><body></body></html>`

func TestExtractScriptEvents(t *testing.T) {
	doc := parseFixture(t, scriptFixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{})
	require.Len(t, records, 2)

	day := timezone.StartOfDay(fixtureDate)

	first := records[0]
	require.Equal(t, "100", first.Id)
	require.Equal(t, KindBooked, first.Kind)
	require.Equal(t, SourceScript, first.Source)
	require.Equal(t, "Strength Block", first.Title)
	require.Equal(t, day.Add(9*time.Hour), first.Start)
	require.Equal(t, day.Add(10*time.Hour), first.End)
	require.Equal(t, "personal_training", first.EventType)
	require.Equal(t, "confirmed", first.Status)
	require.Equal(t, "77", first.TrainerId)
	require.Len(t, first.Attendees, 1)
	require.Equal(t, "Pat Doyle", first.Attendees[0].Name)
	require.Equal(t, "funded", first.Attendees[0].FundingStatus)

	second := records[1]
	require.Equal(t, "101", second.Id)
	require.Equal(t, "Mobility", second.Title)
	require.Equal(t, day.Add(10*time.Hour), second.Start)
	// no explicit end, default slot length applies
	require.Equal(t, day.Add(10*time.Hour+30*time.Minute), second.End)
	require.Len(t, second.Attendees, 1)
	require.Equal(t, "Lee Finch", second.Attendees[0].Name)
}

const markupFixture = `
<html><body>
<div class="cal-event completed-event">
	<input type="hidden" value='{"eventId": 555, "timeSlotId": 9, "eventTypeId": 2, "userId": 77}'/>
	<input type="hidden" name="fundingStatus" value="FUNDED"/>
	<div class="slot-info">
		<div>8:00 AM - 8:30 AM</div>
		<div class="black">Pat Doyle</div>
	</div>
</div>
<div class="cal-event">
	<img title="Small Group Training"/>
	<input type="hidden" value='{"eventId": 556, "eventTypeId": 8, "userId": 77}'/>
	<div class="slot-info">
		<div>9:00 - 9:45</div>
	</div>
</div>
<div class="cal-event">
	<span>stray container without a payload, must be dropped</span>
</div>
</body></html>`

func TestExtractMarkupEvents(t *testing.T) {
	doc := parseFixture(t, markupFixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{})
	require.Len(t, records, 2)

	day := timezone.StartOfDay(fixtureDate)

	first := records[0]
	require.Equal(t, "555", first.Id)
	require.Equal(t, SourceMarkup, first.Source)
	require.Equal(t, KindBooked, first.Kind)
	require.Equal(t, "Pat Doyle", first.Title)
	require.Equal(t, day.Add(8*time.Hour), first.Start)
	require.Equal(t, day.Add(8*time.Hour+30*time.Minute), first.End)
	require.Equal(t, "personal_training", first.EventType)
	require.Equal(t, "completed", first.Status)
	require.Equal(t, "funded", first.FundingStatus)
	require.Equal(t, "77", first.TrainerId)

	second := records[1]
	require.Equal(t, "556", second.Id)
	require.Equal(t, "small_group_training", second.EventType)
	require.Equal(t, "booked", second.Status)
	require.Equal(t, day.Add(9*time.Hour), second.Start)
	require.Equal(t, day.Add(9*time.Hour+45*time.Minute), second.End)
}

func TestExtractMergesScriptAndMarkup(t *testing.T) {
	fixture := `
<html><head><script>
var events = [{"id": 100, "title": "From Script", "start": "2024-03-12 09:00"}];
</script></head><body>
<div class="cal-event">
	<input type="hidden" value='{"eventId": 200, "eventTypeId": 2}'/>
	<div class="slot-info"><div>10:00 AM - 10:30 AM</div></div>
</div>
<div class="cal-event">
	<input type="hidden" value='{"eventId": 100, "eventTypeId": 2}'/>
	<div class="slot-info"><div>9:00 AM - 9:30 AM</div></div>
</div>
</body></html>`
	doc := parseFixture(t, fixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{})

	// disjoint ids union, the shared id keeps the script record
	require.Len(t, records, 2)
	byId := map[string]Record{}
	for _, r := range records {
		byId[r.Id] = r
	}
	require.Equal(t, SourceScript, byId["100"].Source)
	require.Equal(t, "From Script", byId["100"].Title)
	require.Equal(t, SourceMarkup, byId["200"].Source)
}

const gridFixture = `
<html><body>
<table id="schedule">
	<tr class="calendar-head">
		<th>Time</th>
		<th><a title="Alex Mercer">A. Mercer</a></th>
		<th><a title="Jo Bloom">J. Bloom</a></th>
	</tr>
	<tr class="am-pm"><td colspan="3">AM</td></tr>
	<tr><td>8:00 AM</td><td></td><td><div class="cal-event"></div></td></tr>
	<tr><td>8:30 AM</td><td><div class="cal-event"></div></td><td></td></tr>
	<tr><td>9:00 AM</td><td></td><td></td></tr>
</table>
</body></html>`

func TestExtractGridSlots(t *testing.T) {
	doc := parseFixture(t, gridFixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{
		TrainerName: "Alex Mercer",
		TrainerId:   "77",
	})
	require.Len(t, records, 2)

	day := timezone.StartOfDay(fixtureDate)
	for _, r := range records {
		require.Equal(t, KindAvailable, r.Kind)
		require.Equal(t, SourceGrid, r.Source)
		require.Equal(t, "77", r.TrainerId)
		require.Equal(t, 1, r.Capacity)
	}
	require.Equal(t, day.Add(8*time.Hour), records[0].Start)
	require.Equal(t, "available_0800", records[0].Id)
	require.Equal(t, day.Add(9*time.Hour), records[1].Start)
}

func TestExtractGridUnknownTrainerFallsBackToSynthetic(t *testing.T) {
	doc := parseFixture(t, gridFixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{
		TrainerName: "Nobody Here",
	})
	require.NotEmpty(t, records)
	for _, r := range records {
		require.Equal(t, SourceSynthetic, r.Source)
	}
}

func TestExtractGarbageYieldsSyntheticSlots(t *testing.T) {
	doc := parseFixture(t, `<html><body><p>maintenance page %%%</p></body></html>`)

	records := Extract(context.Background(), doc, fixtureDate, Options{
		BusinessOpen:  8,
		BusinessClose: 10,
	})
	require.Len(t, records, 4)

	day := timezone.StartOfDay(fixtureDate)
	seen := map[string]bool{}
	for _, r := range records {
		require.Equal(t, KindAvailable, r.Kind)
		require.Equal(t, SourceSynthetic, r.Source)
		require.True(t, strings.HasPrefix(r.Id, "synthetic_"))
		require.False(t, seen[r.Id])
		seen[r.Id] = true
	}
	require.Equal(t, day.Add(8*time.Hour), records[0].Start)
	require.Equal(t, day.Add(9*time.Hour+30*time.Minute), records[3].Start)
}

func TestExtractSortsByStart(t *testing.T) {
	fixture := `
<html><head><script>
var events = [
	{"id": 2, "title": "Later", "start": "2024-03-12 15:00"},
	{"id": 1, "title": "Earlier", "start": "2024-03-12 07:00"}
];
</script></head><body></body></html>`
	doc := parseFixture(t, fixture)

	records := Extract(context.Background(), doc, fixtureDate, Options{})
	require.Len(t, records, 2)
	require.Equal(t, "Earlier", records[0].Title)
	require.Equal(t, "Later", records[1].Title)
}

func TestParseClock(t *testing.T) {
	day := timezone.StartOfDay(fixtureDate)

	for label, want := range map[string]time.Duration{
		"8:00":     8 * time.Hour,
		"08:30":    8*time.Hour + 30*time.Minute,
		"1:00 PM":  13 * time.Hour,
		"12:15 AM": 15 * time.Minute,
		"12:00 PM": 12 * time.Hour,
		"13:45":    13*time.Hour + 45*time.Minute,
	} {
		got, ok := parseClock(label, fixtureDate)
		require.True(t, ok, label)
		require.Equal(t, day.Add(want), got, label)
	}

	for _, label := range []string{"", "nope", "25:00", "9:75"} {
		_, ok := parseClock(label, fixtureDate)
		require.False(t, ok, label)
	}
}

func TestParseTimeRangeMissingEnd(t *testing.T) {
	day := timezone.StartOfDay(fixtureDate)

	start, end, ok := parseTimeRange("9:00 AM", fixtureDate, 30*time.Minute)
	require.True(t, ok)
	require.Equal(t, day.Add(9*time.Hour), start)
	require.Equal(t, day.Add(9*time.Hour+30*time.Minute), end)
}
