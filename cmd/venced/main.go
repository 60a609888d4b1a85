package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rikseotools/vence-sub014/internal/config"
	"github.com/rikseotools/vence-sub014/internal/daemon"
	"github.com/rikseotools/vence-sub014/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	// A local .env is optional; real deployments export the variables.
	_ = godotenv.Load()

	cfg := config.LoadOrDefault(profile.ConfigPath())
	if err := cfg.ReadSecrets(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Config: cfg}),
	)

	app.Run()
}
