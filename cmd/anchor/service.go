package main

import (
	"github.com/spf13/cobra"

	"github.com/chris/anchor/internal/service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the launchd agent that runs `anchor serve`",
		// The service commands must work before a valid config exists.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	actions := []struct {
		use, short string
		run        func(*service.Launchd) error
	}{
		{"install", "Install the binary and load the launchd agent", (*service.Launchd).Install},
		{"uninstall", "Unload the agent and remove the binary", (*service.Launchd).Uninstall},
		{"start", "Start the agent", (*service.Launchd).Start},
		{"stop", "Stop the agent", (*service.Launchd).Stop},
		{"restart", "Restart the agent", (*service.Launchd).Restart},
		{"status", "Show launchd status", (*service.Launchd).Status},
		{"logs", "Tail the agent's stdout and stderr", (*service.Launchd).Logs},
	}
	for _, a := range actions {
		run := a.run
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				l := service.New()
				l.Out = cmd.OutOrStdout()
				return run(l)
			},
		})
	}
	return cmd
}
