package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vbonduro/timelock/internal/settingsync"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change settings shared across devices",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key>=<value>...",
	Short: "Change settings; an empty value removes the key",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	settings, err := s.client.GetSettings(cmd.Context())
	if err != nil {
		return describeError(err)
	}

	if len(args) == 1 {
		v, ok := settings.Values[args[0]]
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}

	keys := make([]string, 0, len(settings.Values))
	for k := range settings.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, settings.Values[k])
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	conn := settingsync.NewConn(s.client, s.clk, settingsync.Options{
		DeviceID: s.client.DeviceID(),
		Debounce: s.profile.SettingsDebounce,
	}, s.logger)
	defer conn.Close()

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		conn.Set(key, value)
	}

	if err := conn.Flush(cmd.Context()); err != nil {
		return describeError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d setting(s) saved\n", len(args))
	return nil
}
