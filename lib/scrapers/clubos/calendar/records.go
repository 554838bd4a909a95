package calendar

import "time"

// Source records which extraction strategy produced a record. Synthetic
// records are policy-generated guesses and must never masquerade as
// extracted data, callers branch on this.
type Source string

const (
	SourceScript    Source = "script"
	SourceMarkup    Source = "markup"
	SourceGrid      Source = "grid"
	SourceSynthetic Source = "synthetic"
)

type Kind string

const (
	KindBooked    Kind = "booked"
	KindAvailable Kind = "available"
)

// Attendee belongs to exactly one Record.
type Attendee struct {
	Id            string
	Name          string
	FundingStatus string
}

// Record is a normalized portal calendar slot. Every record carries a start
// time, extraction drops anything it cannot anchor in time rather than
// emitting placeholders.
type Record struct {
	Kind   Kind
	Source Source

	Id    string
	Title string
	Start time.Time
	End   time.Time

	EventType     string
	Status        string
	FundingStatus string
	TrainerId     string
	Capacity      int

	Attendees []Attendee
}
