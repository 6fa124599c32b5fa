package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/timelock/internal/apiclient"
	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/config"
	"github.com/vbonduro/timelock/internal/logging"
	"github.com/vbonduro/timelock/internal/unlock"
)

// session is what every client command works with.
type session struct {
	profile *config.Profile
	client  *apiclient.Client
	clk     clock.Clock
	logger  *slog.Logger
}

func loadProfile() (string, *config.Profile, error) {
	path := profilePath
	if path == "" {
		var err error
		if path, err = config.DefaultProfilePath(); err != nil {
			return "", nil, err
		}
	}
	profile, err := config.LoadProfile(path)
	if err != nil {
		return "", nil, err
	}
	return path, profile, nil
}

func newSession(cmd *cobra.Command) (*session, error) {
	path, profile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	if profile.Token == "" {
		return nil, fmt.Errorf("no access token: set TIMELOCK_TOKEN or run \"timelock token --owner <user> --save\"")
	}
	deviceID, err := profile.EnsureDeviceID(path)
	if err != nil {
		return nil, err
	}

	level := profile.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewText(level, cmd.ErrOrStderr())

	client := apiclient.New(profile.Server, profile.Token, apiclient.WithDeviceID(deviceID))
	return &session{profile: profile, client: client, clk: clock.System(), logger: logger}, nil
}

// newMachine returns a machine with id selected.
func (s *session) newMachine(id string) *unlock.Machine {
	m := unlock.NewMachine(s.client, s.client, s.clk, s.profile.MachineConfig(), s.logger)
	m.Select(id)
	return m
}

// awaitLoaded waits for the first answer about the selected item.
func awaitLoaded(ctx context.Context, m *unlock.Machine) (unlock.View, error) {
	views, unsubscribe := m.Subscribe()
	defer unsubscribe()

	for {
		select {
		case v, ok := <-views:
			if !ok {
				return unlock.View{}, unlock.ErrClosed
			}
			switch v.State {
			case unlock.Idle, unlock.Loading:
				continue
			case unlock.Error:
				if v.Item == nil {
					return v, v.Err
				}
			}
			return v, nil
		case <-ctx.Done():
			return unlock.View{}, ctx.Err()
		}
	}
}

func describeError(err error) error {
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		return fmt.Errorf("item not found")
	case errors.Is(err, apiclient.ErrConflict):
		return fmt.Errorf("the item was changed elsewhere and has been refreshed; please retry")
	case errors.Is(err, apiclient.ErrUnauthorized):
		return fmt.Errorf("access token rejected: %w", err)
	}
	return err
}

var (
	createTitle string
	createText  string
	createFile  string
	createAt    string
	createIn    time.Duration
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Seal a note or an image",
	Long: `Seal a note (--text, or - to read stdin) or an image (--file) until a
time given with --at (RFC 3339) or --in (a duration such as 72h).`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var lsCmd = &cobra.Command{
	Use:   "ls [search]",
	Short: "List items",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var extendCmd = &cobra.Command{
	Use:   "extend <id> <minutes>",
	Short: "Push an item's unlock time later",
	Args:  cobra.ExactArgs(2),
	RunE:  runExtend,
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var shareCmd = &cobra.Command{
	Use:   "share <id>",
	Short: "Create a public link to an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

func init() {
	createCmd.Flags().StringVar(&createTitle, "title", "", "item title")
	createCmd.Flags().StringVar(&createText, "text", "", "note content, - for stdin")
	createCmd.Flags().StringVar(&createFile, "file", "", "image file to seal")
	createCmd.Flags().StringVar(&createAt, "at", "", "unlock time (RFC 3339)")
	createCmd.Flags().DurationVar(&createIn, "in", 0, "unlock after this long")
	createCmd.MarkFlagsMutuallyExclusive("text", "file")
	createCmd.MarkFlagsOneRequired("text", "file")
	createCmd.MarkFlagsMutuallyExclusive("at", "in")
	createCmd.MarkFlagsOneRequired("at", "in")
}

func runCreate(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	when := apiclient.Unlock{In: createIn}
	if createAt != "" {
		if when.At, err = time.Parse(time.RFC3339, createAt); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	var item *apiclient.Item
	if createFile != "" {
		data, err := os.ReadFile(createFile)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		title := createTitle
		if title == "" {
			title = filepath.Base(createFile)
		}
		item, err = s.client.CreateImage(cmd.Context(), title, filepath.Base(createFile), data, when)
		if err != nil {
			return describeError(err)
		}
	} else {
		content := createText
		if content == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			content = string(data)
		}
		item, err = s.client.CreateText(cmd.Context(), createTitle, content, when)
		if err != nil {
			return describeError(err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s sealed until %s\n", item.ID, item.UnlockAt.Local().Format(time.RFC1123))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	var query string
	if len(args) == 1 {
		query = args[0]
	}

	items, err := s.client.ListItems(cmd.Context(), query)
	if err != nil {
		return describeError(err)
	}

	return writeItems(cmd.OutOrStdout(), items, s.clk.Now())
}

// writeItems prints items as a table, judging each lock against now.
func writeItems(out io.Writer, items []*apiclient.Item, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tSTATUS\tUNLOCKS")
	for _, item := range items {
		status := "locked"
		if item.UnlockedAt(now) {
			status = "open"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Type, item.Title, status, item.UnlockAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runExtend(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("minutes must be a whole number: %w", err)
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	m := s.newMachine(args[0])
	defer m.Close()
	if _, err := awaitLoaded(cmd.Context(), m); err != nil {
		return describeError(err)
	}

	item, err := m.Extend(cmd.Context(), minutes)
	if err != nil {
		return describeError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now unlocks %s\n", item.ID, item.UnlockAt.Local().Format(time.RFC1123))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	m := s.newMachine(args[0])
	defer m.Close()
	if _, err := awaitLoaded(cmd.Context(), m); err != nil {
		return describeError(err)
	}

	if err := m.Delete(cmd.Context()); err != nil {
		return describeError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	link, err := s.client.Share(cmd.Context(), args[0])
	if err != nil {
		return describeError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), link.URL)
	return nil
}
