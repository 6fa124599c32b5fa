package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/timelock/internal/apiclient"
	"github.com/vbonduro/timelock/internal/events"
	"github.com/vbonduro/timelock/internal/settingsync"
	"github.com/vbonduro/timelock/internal/unlock"
)

var watchKeepOpen bool

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow an item until it unlocks",
	Long: `Follow an item, printing each change of state. Changes made on other
devices arrive over the event stream. The command exits once the item opens or
is deleted, unless --keep-open is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchKeepOpen, "keep-open", false, "keep watching after the item opens")
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	id := args[0]
	out := cmd.OutOrStdout()

	m := s.newMachine(id)
	defer m.Close()

	conn := settingsync.NewConn(s.client, s.clk, settingsync.Options{
		DeviceID: s.client.DeviceID(),
		OnItem: func(ev events.Event) {
			if ev.ItemID == id {
				m.Refetch()
			}
		},
		OnResync: m.Refetch,
		OnSettings: func(values map[string]string, version int64) {
			s.logger.Info("settings changed on another device", "version", version, "keys", len(values))
		},
		Debounce:       s.profile.SettingsDebounce,
		ReconnectDelay: s.profile.ReconnectDelay,
	}, s.logger)
	if err := conn.Start(cmd.Context()); err != nil {
		return err
	}
	defer conn.Close()

	views, unsubscribe := m.Subscribe()
	defer unsubscribe()

	var last string
	for {
		select {
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if line := render(v, s.clk.Now()); line != last {
				fmt.Fprintln(out, line)
				last = line
			}
			switch v.State {
			case unlock.NotFound:
				return nil
			case unlock.Unlocked:
				printContent(out, v.Item)
				if !watchKeepOpen {
					return nil
				}
			}
		case <-cmd.Context().Done():
			return nil
		}
	}
}

// render describes a view in one line. Locked items never show content.
func render(v unlock.View, now time.Time) string {
	var b strings.Builder
	switch v.State {
	case unlock.Loading:
		b.WriteString("loading")
	case unlock.NotFound:
		b.WriteString("item not found")
	case unlock.Error:
		fmt.Fprintf(&b, "error: %v", v.Err)
	case unlock.Locked:
		fmt.Fprintf(&b, "%s is locked, opens in %s (%s)", title(v.Item), until(v.Item, now), v.Item.UnlockAt.Local().Format(time.DateTime))
	case unlock.Unlocking:
		fmt.Fprintf(&b, "%s is opening", title(v.Item))
	case unlock.Unlocked:
		fmt.Fprintf(&b, "%s is open", title(v.Item))
	default:
		b.WriteString(v.State.String())
	}
	if v.Conflicted {
		b.WriteString(" [changed on another device]")
	}
	if v.PendingExtendMinutes > 0 {
		fmt.Fprintf(&b, " [extending by %dm]", v.PendingExtendMinutes)
	}
	if v.IsDeleting {
		b.WriteString(" [deleting]")
	}
	return b.String()
}

func title(item *apiclient.Item) string {
	if item.Title == "" {
		return item.ID
	}
	return fmt.Sprintf("%q", item.Title)
}

func until(item *apiclient.Item, now time.Time) time.Duration {
	return item.UnlockAt.Sub(now).Round(time.Second)
}

func printContent(w io.Writer, item *apiclient.Item) {
	if item.Content == nil {
		return
	}
	if item.Type == apiclient.ItemTypeImage {
		fmt.Fprintf(w, "image %s, %d bytes as a data URL\n", item.MimeType, len(*item.Content))
		return
	}
	fmt.Fprintln(w, *item.Content)
}
