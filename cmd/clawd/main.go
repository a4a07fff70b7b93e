package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/clawapp/claw/internal/daemon"
	"github.com/clawapp/claw/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	gatewayFlag := flag.String("gateway", "", "gateway websocket URL (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			GatewayURL:  *gatewayFlag,
		}),
	)

	app.Run()
}
