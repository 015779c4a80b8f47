package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mama165/sdk-go/logs"

	"github.com/andy6609/chathub/internal/client"
	"github.com/andy6609/chathub/internal/config"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	conn, err := client.Dial(context.Background(), cfg.ServerAddress, cfg.DialTimeout)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server: %w", err)
	}

	session := client.NewSession(conn, os.Stdin, os.Stdout, cfg.Colours, log)
	session.Connected(cfg.ServerAddress)

	if err := session.Handshake(); err != nil {
		_ = conn.Close()
		if errors.Is(err, client.ErrNoInput) {
			return exitOK, nil
		}
		return exitRuntime, err
	}

	outcome, err := session.Run()
	log.Debug("client stopped", "outcome", outcome)
	switch outcome {
	case client.OutcomeSendFailed, client.OutcomeInputFailed:
		return exitRuntime, err
	}
	return exitOK, nil
}
