package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/example/latentwalk/api-go/internal/client"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/model"
)

const pollInterval = 500 * time.Millisecond

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				return followJob(cmd, c, args[0], plain)
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress lines instead of a progress bar")
	return cmd
}

// followJob shows the job's progress until it finishes and reports a failed
// job as an error.
func followJob(cmd *cobra.Command, c *client.Client, id string, plain bool) error {
	out := cmd.OutOrStdout()
	var (
		last events.Event
		err  error
	)
	if !plain && isTerminal(out) {
		last, err = watchInteractive(cmd.Context(), c, id, out)
	} else {
		last, err = watchPlain(cmd.Context(), c, id, out)
	}
	if err != nil {
		return err
	}
	switch last.Status {
	case model.JobDone:
		return nil
	case model.JobError:
		return fmt.Errorf("job %s failed: %s", id, last.Message)
	}
	return fmt.Errorf("job %s is still %s", id, last.Status)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// watchPlain prints one line whenever the frame count or state changes.
func watchPlain(ctx context.Context, c *client.Client, id string, out io.Writer) (events.Event, error) {
	var last events.Event
	printed := -1
	err := c.Watch(ctx, id, pollInterval, func(ev events.Event) error {
		if ev.FramesDone < last.FramesDone && !ev.Terminal() {
			return nil
		}
		changed := ev.Status != last.Status || ev.FramesDone != printed
		last = ev
		if !changed {
			return nil
		}
		printed = ev.FramesDone
		switch ev.Status {
		case model.JobDone:
			fmt.Fprintf(out, "[%s] %d/%d frames, done: %s\n", statusLabel(ev.Status), ev.FramesDone, ev.TotalFrames, ev.Message)
		case model.JobError:
			fmt.Fprintf(out, "[%s] %d/%d frames, %s\n", statusLabel(ev.Status), ev.FramesDone, ev.TotalFrames, ev.Message)
		default:
			fmt.Fprintf(out, "[%s] %d/%d frames (%.1f%%)\n", statusLabel(ev.Status), ev.FramesDone, ev.TotalFrames, ev.Progress*100)
		}
		return nil
	})
	return last, err
}
