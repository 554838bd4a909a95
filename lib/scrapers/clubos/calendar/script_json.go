package calendar

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// the shapes calendar data has been observed to take inside script tags
var scriptEventPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\bevents\s*=\s*(\[.*?\])\s*;`),
	regexp.MustCompile(`(?s)"events"\s*:\s*(\[.*?\])`),
	regexp.MustCompile(`(?s)\bcalendarEvents\s*=\s*(\[.*?\])\s*;`),
}

// rawEventJSON is the closed set of fields accepted from script-embedded
// event objects. Anything that doesn't validate here is rejected at the
// parse boundary instead of flowing through as an untyped map.
type rawEventJSON struct {
	Id            json.Number       `json:"id"`
	EventId       json.Number       `json:"eventId"`
	Title         string            `json:"title"`
	Name          string            `json:"name"`
	Start         string            `json:"start"`
	End           string            `json:"end"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	Time          string            `json:"time"`
	Status        string            `json:"status"`
	FundingStatus string            `json:"fundingStatus"`
	EventType     string            `json:"type"`
	TrainerId     json.Number       `json:"trainerId"`
	MemberName    string            `json:"member_name"`
	Attendees     []rawAttendeeJSON `json:"attendees"`
}

type rawAttendeeJSON struct {
	Id            json.Number `json:"id"`
	Name          string      `json:"name"`
	FundingStatus string      `json:"fundingStatus"`
}

func (r rawEventJSON) id() string {
	if r.EventId.String() != "" {
		return r.EventId.String()
	}
	return r.Id.String()
}

func (r rawEventJSON) startLabel() string {
	if r.Start != "" {
		return r.Start
	}
	if r.StartTime != "" {
		return r.StartTime
	}
	return r.Time
}

func (r rawEventJSON) endLabel() string {
	if r.End != "" {
		return r.End
	}
	return r.EndTime
}

// extractScriptEvents scans script bodies for embedded event arrays and maps
// every validating object into a booked record.
func extractScriptEvents(ctx context.Context, doc *goquery.Document, date time.Time, opts Options) ([]Record, error) {
	var records []Record

	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		text := script.Text()
		for _, pattern := range scriptEventPatterns {
			for _, groups := range pattern.FindAllStringSubmatch(text, -1) {
				var raw []rawEventJSON
				if err := json.Unmarshal([]byte(groups[1]), &raw); err != nil {
					continue
				}
				for _, event := range raw {
					record, ok := scriptEventToRecord(event, date, opts)
					if !ok {
						continue
					}
					records = append(records, record)
				}
			}
		}
	})

	return records, nil
}

func scriptEventToRecord(event rawEventJSON, date time.Time, opts Options) (Record, bool) {
	// an event without an id or a start time is not a usable record
	if event.id() == "" {
		return Record{}, false
	}
	start, ok := parseEventTime(event.startLabel(), date)
	if !ok {
		return Record{}, false
	}
	end, ok := parseEventTime(event.endLabel(), date)
	if !ok {
		end = start.Add(opts.slotDuration())
	}

	title := event.Title
	if title == "" {
		title = event.Name
	}

	var attendees []Attendee
	for _, a := range event.Attendees {
		attendees = append(attendees, Attendee{
			Id:            a.Id.String(),
			Name:          a.Name,
			FundingStatus: a.FundingStatus,
		})
	}
	if len(attendees) == 0 && event.MemberName != "" {
		attendees = []Attendee{{Name: event.MemberName}}
	}

	return Record{
		Kind:          KindBooked,
		Source:        SourceScript,
		Id:            event.id(),
		Title:         title,
		Start:         start,
		End:           end,
		EventType:     event.EventType,
		Status:        event.Status,
		FundingStatus: event.FundingStatus,
		TrainerId:     event.TrainerId.String(),
		Attendees:     attendees,
	}, true
}
