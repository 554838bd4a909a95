package commands

import (
	"log/slog"
	"time"

	"gymassist-backend/lib/serviceutil"
	"gymassist-backend/lib/timezone"
	"gymassist-backend/services/portal"

	"github.com/spf13/cobra"
)

var bookDuration *int
var bookEventType *string
var bookNotes *string

func init() {
	bookDuration = bookCmd.Flags().Int("duration", 30, "Appointment length in minutes.")
	bookEventType = bookCmd.Flags().String("type", "personal_training", "Event type to book.")
	bookNotes = bookCmd.Flags().String("notes", "", "Notes to attach to the appointment.")
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(cancelCmd)
}

var bookCmd = &cobra.Command{
	Use:   "book <member name> <YYYY-MM-DD> <HH:MM>",
	Short: "Books an appointment for a member in an open slot.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		start, err := time.ParseInLocation("2006-01-02 15:04", args[1]+" "+args[2], timezone.Location)
		if err != nil {
			serviceutil.Fatal("invalid start time, expected YYYY-MM-DD HH:MM", err)
		}

		service, cleanup := newService()
		defer cleanup()

		err = service.BookAppointment(cmd.Context(), portal.BookingRequest{
			MemberName: args[0],
			Start:      start,
			Duration:   time.Duration(*bookDuration) * time.Minute,
			EventType:  *bookEventType,
			Notes:      *bookNotes,
		})
		if err != nil {
			serviceutil.Fatal("failed to book appointment", err)
		}
		slog.Info("appointment booked", "member", args[0], "start", start)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <event id>",
	Short: "Cancels a calendar event by its portal id.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newService()
		defer cleanup()

		if err := service.CancelEvent(cmd.Context(), args[0]); err != nil {
			serviceutil.Fatal("failed to cancel event", err)
		}
		slog.Info("event cancelled", "id", args[0])
	},
}
