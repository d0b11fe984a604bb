package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/mcpserver"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

// withStore opens the configured store, runs fn and closes the store.
func withStore(ctx context.Context, cfg *config.Config, fn func(store.Store) error) error {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	st, err := app.OpenStore(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close store", "err", err)
		}
	}()
	return fn(st)
}

func newDevicesCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the capture devices of the configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, closeFn, err := app.OpenSource(d.cfg, false)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			devices, err := src.Devices(cmd.Context())
			if err != nil {
				return err
			}
			return d.printJSON(cmd.OutOrStdout(), devices)
		},
	}
}

func newMeetingsCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "Query stored meetings",
	}

	var (
		limit, offset int
		tags          []string
		from, to      string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List meetings, newest first",
		Long: `List meetings, newest first.

Examples:
  minutes meetings list --limit 10
  minutes meetings list --tag team --from 2024-03-01 --to 2024-03-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.MeetingFilter{Limit: limit, Offset: offset, Tags: tags}
			var err error
			if f.From, err = parseDay(from, false); err != nil {
				return err
			}
			if f.To, err = parseDay(to, true); err != nil {
				return err
			}
			return withStore(cmd.Context(), d.cfg, func(st store.Store) error {
				meetings, err := st.ListMeetings(cmd.Context(), f)
				if err != nil {
					return err
				}
				return d.printJSON(cmd.OutOrStdout(), orEmpty(meetings))
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum number of meetings")
	list.Flags().IntVar(&offset, "offset", 0, "number of meetings to skip")
	list.Flags().StringSliceVar(&tags, "tag", nil, "only meetings carrying this tag (repeatable)")
	list.Flags().StringVar(&from, "from", "", "earliest meeting date, YYYY-MM-DD or RFC 3339")
	list.Flags().StringVar(&to, "to", "", "latest meeting date, inclusive")

	show := &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Print a meeting with its transcript, summary and action items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), d.cfg, func(st store.Store) error {
				rec, err := store.LoadRecord(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				return d.printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newActionsCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Query and update action items",
	}

	var meetingID, status, assignee string
	list := &cobra.Command{
		Use:   "list",
		Short: "List action items",
		Long: `List action items. Pending items come first, then by due date.

Examples:
  minutes actions list --status pending --assignee "Dana Scully"
  minutes actions list --meeting 0b6c9d1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.ActionItemFilter{MeetingID: meetingID, Assignee: assignee}
			if status != "" {
				s, err := meeting.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			return withStore(cmd.Context(), d.cfg, func(st store.Store) error {
				items, err := st.ListActionItems(cmd.Context(), f)
				if err != nil {
					return err
				}
				return d.printJSON(cmd.OutOrStdout(), orEmpty(items))
			})
		},
	}
	list.Flags().StringVar(&meetingID, "meeting", "", "only items of this meeting")
	list.Flags().StringVar(&status, "status", "", "pending, completed or cancelled")
	list.Flags().StringVar(&assignee, "assignee", "", "only items assigned to this person (case-insensitive)")

	setStatus := &cobra.Command{
		Use:       "set-status <item-id> <pending|completed|cancelled>",
		Short:     "Change the status of an action item",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(meeting.StatusPending), string(meeting.StatusCompleted), string(meeting.StatusCancelled)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := meeting.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), d.cfg, func(st store.Store) error {
				item, err := st.UpdateActionItem(cmd.Context(), args[0], store.ActionItemUpdate{Status: &s})
				if err != nil {
					return fmt.Errorf("update action item %s: %w", args[0], err)
				}
				return d.printJSON(cmd.OutOrStdout(), item)
			})
		},
	}

	cmd.AddCommand(list, setStatus)
	return cmd
}

func newMCPCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the meeting tools to an MCP client over stdio",
		Long: `Serve the meeting tools over stdio so an assistant can query meetings
and update action items. Logs go to stderr; stdout carries the protocol.

Tools: list_meetings, get_meeting, list_action_items,
update_action_item_status, search_transcripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return withStore(ctx, d.cfg, func(st store.Store) error {
				return mcpserver.New(st, version).Run(ctx)
			})
		},
	}
}

// parseDay accepts RFC 3339 or YYYY-MM-DD; a bare day used as an upper
// bound covers the whole day.
func parseDay(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// orEmpty makes an empty result print as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
