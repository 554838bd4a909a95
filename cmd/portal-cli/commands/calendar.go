package commands

import (
	"strings"

	"gymassist-backend/lib/scrapers/clubos/calendar"
	"gymassist-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var eventsDate *string
var slotsDate *string

func init() {
	eventsDate = eventsCmd.Flags().String("date", "", "Week to show, as YYYY-MM-DD. Defaults to today.")
	slotsDate = slotsCmd.Flags().String("date", "", "Week to show, as YYYY-MM-DD. Defaults to today.")
	calendarCmd.AddCommand(eventsCmd)
	calendarCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(calendarCmd)
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Reads the trainer's portal calendar.",
}

var eventsCmd = &cobra.Command{
	Use:   "events [--date <YYYY-MM-DD>]",
	Short: "Lists booked events for the week containing the given date.",
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newService()
		defer cleanup()

		events, err := service.GetCalendarEvents(cmd.Context(), parseDate(*eventsDate))
		if err != nil {
			serviceutil.Fatal("failed to fetch calendar events", err)
		}
		renderRecords(events)
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots [--date <YYYY-MM-DD>]",
	Short: "Lists open slots for the week containing the given date.",
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newService()
		defer cleanup()

		slots, err := service.GetAvailableSlots(cmd.Context(), parseDate(*slotsDate))
		if err != nil {
			serviceutil.Fatal("failed to fetch available slots", err)
		}
		renderRecords(slots)
	},
}

func renderRecords(records []calendar.Record) {
	t := newTable()
	t.AppendHeader(table.Row{"Id", "Start", "End", "Type", "Title", "Status", "Source", "Attendees"})
	for _, r := range records {
		var names []string
		for _, a := range r.Attendees {
			names = append(names, a.Name)
		}
		t.AppendRow(table.Row{
			r.Id,
			r.Start.Format("Mon Jan 2 3:04 PM"),
			r.End.Format("3:04 PM"),
			r.EventType,
			r.Title,
			r.Status,
			r.Source,
			strings.Join(names, ", "),
		})
	}
	t.Render()
}
