package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gymassist-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// extractGridSlots handles the day-view trainer grid: a table with one column
// per trainer and one row per time label. Cells in the target trainer's
// column that carry no event marker are open slots.
func extractGridSlots(ctx context.Context, doc *goquery.Document, date time.Time, opts Options) ([]Record, error) {
	table := doc.Find("table#schedule").First()
	if table.Length() == 0 {
		table = doc.Find("table[class*=calendar], table[class*=schedule]").First()
	}
	if table.Length() == 0 {
		return nil, nil
	}

	column := findTrainerColumn(table, opts.TrainerName)
	if column < 0 {
		return nil, fmt.Errorf("%w: trainer column %q not found in grid", errGridDegraded, opts.TrainerName)
	}

	var records []Record
	var timeLabel string

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("calendar-head") || row.HasClass("am-pm") {
			return
		}
		cells := row.Find("td, th")
		if cells.Length() == 0 {
			return
		}

		if label := htmlutil.NormalizeText(cells.First().Text()); strings.Contains(label, ":") {
			timeLabel = label
		}
		if timeLabel == "" || cells.Length() <= column {
			return
		}

		cell := cells.Eq(column)
		if cell.Find("div.cal-event").Length() > 0 {
			return
		}
		if htmlutil.NormalizeText(cell.Text()) != "" {
			return
		}

		start, ok := parseClock(timeLabel, date)
		if !ok {
			return
		}
		records = append(records, Record{
			Kind:      KindAvailable,
			Source:    SourceGrid,
			Id:        fmt.Sprintf("available_%s", start.Format("1504")),
			Title:     "Available",
			Start:     start,
			End:       start.Add(opts.slotDuration()),
			EventType: "personal_training",
			Status:    "available",
			TrainerId: opts.TrainerId,
			Capacity:  1,
		})
	})

	return records, nil
}

// findTrainerColumn matches the header row's anchor titles first, the portal
// truncates the visible text but keeps the full name in the title attribute.
func findTrainerColumn(table *goquery.Selection, trainerName string) int {
	if trainerName == "" {
		return -1
	}

	column := -1
	table.Find("tr.calendar-head").First().Find("th").Each(func(i int, th *goquery.Selection) {
		if column >= 0 {
			return
		}
		title := th.Find("a").AttrOr("title", "")
		if strings.Contains(title, trainerName) ||
			strings.Contains(htmlutil.NormalizeText(th.Text()), trainerName) {
			column = i
		}
	})
	return column
}
