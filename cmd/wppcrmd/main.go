package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/daemon"
	"github.com/matheus3301/wppcrm/internal/session"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		if err := config.Save(*configFlag, config.Default()); err != nil {
			fatal(err)
		}
		fmt.Printf("wrote %s\n", *configFlag)
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal(err)
	}

	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
