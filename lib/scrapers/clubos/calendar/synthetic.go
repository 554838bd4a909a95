package calendar

import (
	"time"

	"gymassist-backend/lib/timezone"

	"github.com/google/uuid"
)

// syntheticSlots generates a business-hours grid of open slots when every
// extraction strategy came up empty. These are guesses, not data: the
// synthetic source tag is the caller's only way to tell a genuinely empty
// calendar from a degraded extraction, so it must survive all the way out.
func syntheticSlots(date time.Time, opts Options) []Record {
	day := timezone.StartOfDay(date)
	slot := opts.slotDuration()

	open := day.Add(time.Duration(opts.businessOpen()) * time.Hour)
	close := day.Add(time.Duration(opts.businessClose()) * time.Hour)

	var records []Record
	for start := open; start.Before(close); start = start.Add(slot) {
		records = append(records, Record{
			Kind:      KindAvailable,
			Source:    SourceSynthetic,
			Id:        "synthetic_" + uuid.NewString(),
			Title:     "Available",
			Start:     start,
			End:       start.Add(slot),
			EventType: "personal_training",
			Status:    "available",
			TrainerId: opts.TrainerId,
			Capacity:  1,
		})
	}
	return records
}
