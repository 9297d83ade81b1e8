package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/example/latentwalk/api-go/internal/client"
	"github.com/example/latentwalk/api-go/internal/model"
)

var titleCaser = cases.Title(language.Und)

func statusLabel(status model.JobStatus) string {
	return titleCaser.String(string(status))
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw job JSON")
	return cmd
}

func printJob(out io.Writer, job client.Job) {
	p := job.Params
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-10s %s\n", label+":", value)
		}
	}
	line("Job", job.ID)
	line("Status", statusLabel(job.Status))
	line("Frames", fmt.Sprintf("%d/%d (%.1f%%)", job.FramesDone, job.TotalFrames, job.Progress*100))
	line("Walk", fmt.Sprintf("%ds at %d fps, %dpx, %d anchors, strength %g, sharpen %s, seed %d",
		p.Seconds, p.FPS, p.Resolution, p.Anchors, p.Strength, yesNo(p.Sharpen), job.Seed))
	line("Created", humanize.Time(job.CreatedAt))
	if job.StartedAt != nil && job.CompletedAt != nil {
		line("Took", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond).String())
	}
	line("Artifact", job.ArtifactKey)
	line("Result", job.ResultURL)
	line("Poster", job.PosterURL)
	if job.Error != "" {
		line("Error", fmt.Sprintf("%s (%s)", job.Error, job.ErrorKind))
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.JobStatus(strings.ToLower(strings.TrimSpace(status)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("invalid --status %q (want queued, running, done or error)", status)
			}
			return ctx.withClient(func(c *client.Client) error {
				jobs, err := c.List(cmd.Context(), filter, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						statusLabel(job.Status),
						fmt.Sprintf("%d/%d", job.FramesDone, job.TotalFrames),
						fmt.Sprintf("%.0f%%", job.Progress*100),
						fmt.Sprintf("%ds@%dfps %dpx", job.Params.Seconds, job.Params.FPS, job.Params.Resolution),
						humanize.Time(job.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Frames", "Progress", "Walk", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this state")
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "Maximum number of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw job list JSON")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				lines, err := c.Logs(cmd.Context(), args[0], tail)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, l := range lines {
					fmt.Fprintln(out, l)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 200, "Number of lines")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				err := c.Cancel(cmd.Context(), args[0])
				if errors.Is(err, model.ErrConflict) {
					return fmt.Errorf("job %s has already finished", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %s\n", args[0])
				return nil
			})
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a finished video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				return downloadJob(cmd, c, args[0], output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: the artifact name in the current directory)")
	return cmd
}

// downloadJob writes the job's video to output through a temporary file so a
// failed transfer never leaves a truncated video behind.
func downloadJob(cmd *cobra.Command, c *client.Client, id, output string) error {
	if output == "" {
		job, err := c.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if job.Status != model.JobDone {
			return fmt.Errorf("job %s is %s, nothing to download", id, job.Status)
		}
		output = job.ArtifactKey
	}

	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(output)+".*.download")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := c.Download(cmd.Context(), id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, model.ErrNotReady) {
			return fmt.Errorf("job %s has no video yet", id)
		}
		return err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", output, humanize.Bytes(uint64(n)))
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
