package commands

import (
	"log/slog"
	"strings"

	"gymassist-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	messageCmd.AddCommand(textCmd)
	messageCmd.AddCommand(emailCmd)
	rootCmd.AddCommand(messageCmd)
}

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Sends messages to members through the portal follow-up system.",
}

var textCmd = &cobra.Command{
	Use:   "text <member name> <message...>",
	Short: "Texts a member.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newService()
		defer cleanup()

		text := strings.Join(args[1:], " ")
		if err := service.SendMessage(cmd.Context(), args[0], text); err != nil {
			serviceutil.Fatal("failed to send text", err)
		}
		slog.Info("text sent", "recipient", args[0])
	},
}

var emailCmd = &cobra.Command{
	Use:   "email <member name> <subject> <body...>",
	Short: "Emails a member.",
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newService()
		defer cleanup()

		body := strings.Join(args[2:], " ")
		if err := service.SendEmail(cmd.Context(), args[0], args[1], body); err != nil {
			serviceutil.Fatal("failed to send email", err)
		}
		slog.Info("email sent", "recipient", args[0], "subject", args[1])
	},
}
