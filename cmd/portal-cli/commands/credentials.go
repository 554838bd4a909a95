package commands

import (
	"log/slog"

	"gymassist-backend/lib/serviceutil"
	"gymassist-backend/services/keychain"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	rootCmd.AddCommand(credentialsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manages portal credentials in the keychain database.",
}

func newKeychain() (keychain.Service, func()) {
	cfg := readConfig()
	sqlite := openKeychainDb(cfg)
	return keychain.NewService(sqlite), func() { sqlite.Close() }
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <namespace> <username> <password>",
	Short: "Stores or overwrites the credential for a namespace.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newKeychain()
		defer cleanup()

		if err := service.Set(cmd.Context(), args[0], args[1], args[2]); err != nil {
			serviceutil.Fatal("failed to store credential", err)
		}
		slog.Info("credential stored", "namespace", args[0], "username", args[1])
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <namespace>",
	Short: "Deletes the credential for a namespace.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newKeychain()
		defer cleanup()

		if err := service.Delete(cmd.Context(), args[0]); err != nil {
			serviceutil.Fatal("failed to delete credential", err)
		}
		slog.Info("credential deleted", "namespace", args[0])
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the namespaces with stored credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := newKeychain()
		defer cleanup()

		namespaces, err := service.List(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list credentials", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Namespace"})
		for _, namespace := range namespaces {
			t.AppendRow(table.Row{namespace})
		}
		t.Render()
	},
}
