package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	profilePath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "timelock",
	Short: "A vault for notes and images that open at a set time",
	Long: `timelock stores notes and images that stay sealed until their unlock time.

Run "timelock serve" for the server. The other commands are clients and read
their server address, token and device id from the profile.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "client profile (default: <config dir>/timelock/profile.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "client log level, overrides the profile")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(settingsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
