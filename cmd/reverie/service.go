package main

import (
	"fmt"
	"log/slog"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/ferrant/reverie/pkg/app"
)

// program adapts the app loop to the system service manager.
type program struct {
	cfgPath string
	done    chan error
}

// Start implements service.Interface. The service manager expects Start
// to return promptly, so the app loop runs in the background.
func (p *program) Start(service.Service) error {
	p.done = make(chan error, 1)
	go func() {
		p.done <- app.Run(app.RunParams{
			ConfigPath: p.cfgPath,
			Version:    version,
			LogLevel:   slog.LevelInfo,
		})
	}()
	return nil
}

// Stop implements service.Interface. app.Run exits on SIGTERM, which the
// service manager sends before calling Stop.
func (p *program) Stop(service.Service) error {
	select {
	case err := <-p.done:
		return err
	default:
		return nil
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Manage reverie as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcConfig := &service.Config{
				Name:        "reverie",
				DisplayName: "Reverie",
				Description: "Background conversation enrichment and scheduled delivery engine",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			svc, err := service.New(&program{cfgPath: cfgPath}, svcConfig)
			if err != nil {
				return fmt.Errorf("creating service handle: %w", err)
			}

			action := args[0]
			if action == "run" {
				return svc.Run()
			}
			if err := service.Control(svc, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Printf("service %s: done\n", action)
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
