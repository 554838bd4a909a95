package calendar

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gymassist-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// the portal's numeric event type ids mapped to names, confirmed against
// the event icon title when one is present
var eventTypeNames = map[string]string{
	"2": "personal_training",
	"3": "group_class",
	"4": "appointment",
	"7": "group_training",
	"8": "small_group_training",
}

// rawSlotJSON is the hidden-input payload embedded in each event container.
type rawSlotJSON struct {
	EventId     json.Number `json:"eventId"`
	TimeSlotId  json.Number `json:"timeSlotId"`
	EventTypeId json.Number `json:"eventTypeId"`
	UserId      json.Number `json:"userId"`
	Status      string      `json:"status"`
}

// extractMarkupEvents reads event containers out of server-rendered markup:
// a hidden input inside each container carries the ids as a JSON payload,
// the human-readable time range and attendee names live in sibling text.
func extractMarkupEvents(ctx context.Context, doc *goquery.Document, date time.Time, opts Options) ([]Record, error) {
	var records []Record

	doc.Find("div.cal-event, div[class*=appointment-slot]").Each(func(_ int, container *goquery.Selection) {
		record, ok := markupEventToRecord(container, date, opts)
		if !ok {
			return
		}
		records = append(records, record)
	})

	return records, nil
}

func markupEventToRecord(container *goquery.Selection, date time.Time, opts Options) (Record, bool) {
	payload := container.Find("input[type=hidden]").FilterFunction(
		func(_ int, input *goquery.Selection) bool {
			return strings.Contains(input.AttrOr("value", ""), "eventId")
		},
	).First()
	if payload.Length() == 0 {
		return Record{}, false
	}

	var raw rawSlotJSON
	if err := json.Unmarshal([]byte(payload.AttrOr("value", "")), &raw); err != nil {
		return Record{}, false
	}
	if raw.EventId.String() == "" {
		return Record{}, false
	}

	slotInfo := container.Find("div.slot-info").First()
	if slotInfo.Length() == 0 {
		return Record{}, false
	}

	var timeRange, clientName, statusLabel string
	slotInfo.Find("div").Each(func(_ int, div *goquery.Selection) {
		text := htmlutil.NormalizeText(div.Text())
		switch {
		case strings.Contains(text, ":") && strings.Contains(text, "-"):
			if timeRange == "" {
				timeRange = text
			}
		case div.HasClass("black"):
			clientName = text
		case div.Find("span").Length() > 0 && statusLabel == "":
			statusLabel = htmlutil.NormalizeText(div.Find("span").First().Text())
		}
	})

	start, end, ok := parseTimeRange(timeRange, date, opts.slotDuration())
	if !ok {
		return Record{}, false
	}

	status := "booked"
	if container.HasClass("cancelled-event") {
		status = "cancelled"
	} else if container.HasClass("completed-event") {
		status = "completed"
	}

	eventType := eventTypeFromContainer(container, raw.EventTypeId.String())

	fundingStatus := strings.ToLower(
		container.Find("input[name=fundingStatus]").AttrOr("value", ""),
	)
	if container.Find("div.funding-icon.funded").Length() > 0 {
		fundingStatus = "funded"
	}

	title := clientName
	if title == "" {
		title = strings.ReplaceAll(eventType, "_", " ") + " session"
	}

	var attendees []Attendee
	if clientName != "" {
		attendees = []Attendee{{Name: clientName, FundingStatus: fundingStatus}}
	}

	return Record{
		Kind:          KindBooked,
		Source:        SourceMarkup,
		Id:            raw.EventId.String(),
		Title:         title,
		Start:         start,
		End:           end,
		EventType:     eventType,
		Status:        status,
		FundingStatus: fundingStatus,
		TrainerId:     raw.UserId.String(),
		Attendees:     attendees,
	}, true
}

func eventTypeFromContainer(container *goquery.Selection, typeId string) string {
	eventType := eventTypeNames[typeId]
	if eventType == "" {
		eventType = "appointment"
	}

	iconTitle := strings.ToLower(container.Find("img").First().AttrOr("title", ""))
	switch {
	case strings.Contains(iconTitle, "personal training"):
		eventType = "personal_training"
	case strings.Contains(iconTitle, "small group"):
		eventType = "small_group_training"
	case strings.Contains(iconTitle, "appointment"):
		eventType = "appointment"
	}
	return eventType
}
