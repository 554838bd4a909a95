package main

import (
	"context"
	"gymassist-backend/cmd/portal-cli/commands"
	"gymassist-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "portal-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
