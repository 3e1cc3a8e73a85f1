package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"telemetry-relay/monitor"
	"telemetry-relay/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "relaymon: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("relaymon", pflag.ContinueOnError)
	target := flags.StringP("url", "u", "ws://localhost:8080/ws", "relay WebSocket URL")
	timeout := flags.Duration("timeout", 10*time.Second, "connection timeout")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	client, err := monitor.Dial(ctx, *target)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(monitor.NewModel(client, client.URL()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run monitor: %w", err)
	}
	return nil
}
