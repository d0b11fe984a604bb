package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/pipeline"
)

// sessionFlags are the meeting details shared by record and transcribe.
type sessionFlags struct {
	title        string
	participants []string
	tags         []string
	context      string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "meeting title; generated from the transcript when empty")
	cmd.Flags().StringSliceVarP(&f.participants, "participant", "p", nil, "participant name (repeatable)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag to attach to the meeting (repeatable)")
	cmd.Flags().StringVar(&f.context, "context", "", "free text for the summary, such as the agenda")
}

func (f *sessionFlags) options() pipeline.StartOptions {
	return pipeline.StartOptions{
		Title:        f.title,
		Participants: f.participants,
		Tags:         f.tags,
		Context:      f.context,
	}
}

func newRecordCmd(d *deps) *cobra.Command {
	var (
		flags  sessionFlags
		device int
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting from the configured source",
		Long: `Record a meeting from the configured audio source.

Live transcription is printed while recording. Press Enter (or send
SIGINT) to stop; the finished record is printed as JSON.

Examples:
  minutes record --title "Weekly sync" -p "Dana Scully" -p "Fox Mulder"
  minutes record --device 2 --tag team`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.options()
			if cmd.Flags().Changed("device") {
				opts.DeviceIndex = &device
			}
			return d.runSession(cmd, d.cfg, opts, true, func(ctx context.Context) {
				in := cmd.InOrStdin()
				if isTerminal(in) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Recording. Press Enter to stop.")
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), "Recording. Send SIGINT or SIGTERM to stop.")
				}
				waitForEnter(ctx, in)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&device, "device", "d", 0, "input device index (see 'minutes devices'); default device when unset")
	return cmd
}

func newTranscribeCmd(d *deps) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Process a WAV file as a complete meeting",
		Long: `Run a WAV file through the same pipeline as a live recording:
full transcription, summary and action items, all persisted to the
configured store. The record is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *d.cfg
			cfg.Audio.Source = config.SourceFile
			cfg.Audio.FilePath = args[0]
			// The file source reads the whole file before Stop returns.
			return d.runSession(cmd, &cfg, flags.options(), false, func(context.Context) {})
		},
	}
	flags.register(cmd)
	return cmd
}

// runSession starts a session, calls wait until the user ends it, then
// finalises and prints the record.
func (d *deps) runSession(cmd *cobra.Command, cfg *config.Config, opts pipeline.StartOptions, realtime bool, wait func(context.Context)) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	application, err := app.New(ctx, cfg, app.WithVersion(version), app.WithRealtimeFile(realtime))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	p := application.Pipeline()
	unsubscribe := p.Subscribe(pipeline.ObserverFuncs{
		Live: func(l pipeline.LiveText) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%03d] %s\n", l.Seq, l.Text)
		},
		StateChange: func(e pipeline.Event) {
			slog.Info("session state", "state", e.State)
		},
	})
	defer unsubscribe()

	if err := p.Start(ctx, opts); err != nil {
		return err
	}
	wait(ctx)

	rec, err := p.Stop(ctx)
	if err != nil {
		return err
	}
	if rec.Summary.Unavailable {
		slog.Warn("summary unavailable; the transcript was saved", "meeting_id", rec.Meeting.ID)
	}
	return d.printJSON(cmd.OutOrStdout(), rec)
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// waitForEnter returns on the first line from r or when ctx is done. An
// input that ends without a newline, such as /dev/null, leaves only ctx.
func waitForEnter(ctx context.Context, r io.Reader) {
	line := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
			close(line)
		}
	}()
	select {
	case <-line:
	case <-ctx.Done():
	}
}
