package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"gymassist-backend/lib/configutil"
	"gymassist-backend/lib/restyutil"
	"gymassist-backend/lib/scrapers/clubos/core"
	"gymassist-backend/lib/serviceutil"
	"gymassist-backend/lib/sqliteutil"
	"gymassist-backend/lib/timezone"
	"gymassist-backend/services/keychain"
	keychaindb "gymassist-backend/services/keychain/db"
	"gymassist-backend/services/portal"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl     string `json:"base_url"`
	Namespace   string `json:"namespace"`
	TrainerName string `json:"trainer_name"`
	TrainerId   string `json:"trainer_id"`
	KeychainDb  string `json:"keychain_db"`
}

var rootCmd = &cobra.Command{
	Use:   "portal-cli",
	Short: "portal-cli drives the gym portal: calendars, bookings and member messaging.",
}

var debugHttp *bool

func init() {
	debugHttp = rootCmd.PersistentFlags().Bool("debug-http", false, "Dump portal requests and responses to .dev/resty/portal.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func openKeychainDb(cfg Config) *sql.DB {
	path := cfg.KeychainDb
	if path == "" {
		path = "keychain.db"
	}
	sqlite, err := sqliteutil.OpenDB(keychaindb.Schema, path)
	if err != nil {
		serviceutil.Fatal("failed to open keychain db", err)
	}
	return sqlite
}

func newService() (*portal.Service, func()) {
	cfg := readConfig()
	if *debugHttp {
		core.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/portal"))
	}
	sqlite := openKeychainDb(cfg)
	service := portal.NewService(keychain.NewService(sqlite), portal.Options{
		BaseUrl:     cfg.BaseUrl,
		Namespace:   cfg.Namespace,
		TrainerName: cfg.TrainerName,
		TrainerId:   cfg.TrainerId,
	})
	return service, func() { sqlite.Close() }
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func parseDate(value string) time.Time {
	if value == "" {
		return timezone.Now()
	}
	date, err := time.ParseInLocation("2006-01-02", value, timezone.Location)
	if err != nil {
		serviceutil.Fatal("invalid date, expected YYYY-MM-DD", err)
	}
	return date
}
