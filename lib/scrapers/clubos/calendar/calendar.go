package calendar

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scrapers/clubos/calendar")

var errGridDegraded = errors.New("grid extraction degraded")

type Options struct {
	// TrainerName selects the column in the day-view grid.
	TrainerName string
	TrainerId   string

	// business-hours window for the synthetic fallback, hours of the day
	BusinessOpen  int
	BusinessClose int

	// SlotDuration is the assumed slot length where the markup doesn't
	// state one. The portal books in 30 minute increments.
	SlotDuration time.Duration
}

func (o Options) slotDuration() time.Duration {
	if o.SlotDuration == 0 {
		return time.Minute * 30
	}
	return o.SlotDuration
}

func (o Options) businessOpen() int {
	if o.BusinessOpen == 0 {
		return 6
	}
	return o.BusinessOpen
}

func (o Options) businessClose() int {
	if o.BusinessClose == 0 {
		return 22
	}
	return o.BusinessClose
}

type strategy struct {
	name string
	// additive strategies merge into prior results instead of being
	// skipped once an earlier strategy has produced records
	additive bool
	run      func(context.Context, *goquery.Document, time.Time, Options) ([]Record, error)
}

var strategies = []strategy{
	{name: "script_json", run: extractScriptEvents},
	{name: "markup", additive: true, run: extractMarkupEvents},
	{name: "grid", run: extractGridSlots},
}

// Extract runs the ordered strategy chain over one freshly fetched document.
// The pipeline holds no cross-call state and never fails: a strategy that
// chokes on the markup is logged and skipped, and when everything comes up
// empty a synthetic business-hours grid is returned instead.
func Extract(ctx context.Context, doc *goquery.Document, date time.Time, opts Options) []Record {
	ctx, span := tracer.Start(ctx, "calendar:Extract")
	defer span.End()

	var records []Record
	seen := map[string]bool{}

	for _, s := range strategies {
		if len(records) > 0 && !s.additive {
			continue
		}

		got, err := s.run(ctx, doc, date, opts)
		if err != nil {
			slog.WarnContext(
				ctx, "extraction strategy degraded",
				"strategy", s.name,
				"err", err,
			)
			span.AddEvent("strategy degraded", trace.WithAttributes(
				attribute.String("strategy", s.name),
			))
			continue
		}

		for _, record := range got {
			if record.Start.IsZero() {
				continue
			}
			if record.Id != "" && seen[record.Id] {
				continue
			}
			seen[record.Id] = true
			records = append(records, record)
		}
		span.SetAttributes(attribute.Int("records:"+s.name, len(got)))
	}

	if len(records) == 0 {
		slog.WarnContext(ctx, "all extraction strategies empty, generating synthetic slots")
		records = syntheticSlots(date, opts)
		span.SetAttributes(attribute.Bool("synthetic", true))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Start.Before(records[j].Start)
	})
	return records
}
