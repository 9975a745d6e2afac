// Command todo manages personal todos and shared lists from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "todo",
		Short:         "Personal todos and shared lists",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("TASKLISTS_CONFIG"), "path to config.yaml")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for a single command")

	root.AddCommand(
		signupCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
		whoamiCmd(opts),
		todosCmd(opts),
		listsCmd(opts),
		itemsCmd(opts),
		inviteCmd(opts),
		collaboratorsCmd(opts),
		notificationsCmd(opts),
		watchCmd(opts),
	)
	return root
}
