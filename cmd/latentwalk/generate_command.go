package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/latentwalk/api-go/internal/client"
	"github.com/example/latentwalk/api-go/internal/model"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	params := model.DefaultParams()
	var seed uint64
	var watch bool
	var plain bool
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a latent walk job",
		Long: "Submit a latent walk job and print its id. With --watch the command follows\n" +
			"the job until it finishes; with --output it also downloads the video.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				params.Seed = &seed
			}
			if output != "" {
				watch = true
			}
			return ctx.withClient(func(c *client.Client) error {
				id, err := c.CreateJob(cmd.Context(), params)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !watch {
					fmt.Fprintln(out, id)
					return nil
				}
				fmt.Fprintf(out, "Submitted job %s (%d frames)\n", id, params.TotalFrames())
				if err := followJob(cmd, c, id, plain); err != nil {
					return err
				}
				if output == "" {
					return nil
				}
				return downloadJob(cmd, c, id, output)
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&params.Seconds, "seconds", params.Seconds, "Video length in seconds")
	flags.IntVar(&params.FPS, "fps", params.FPS, "Frames per second")
	flags.IntVar(&params.Resolution, "out-res", params.Resolution, "Square output resolution in pixels")
	flags.IntVar(&params.Anchors, "anchors", params.Anchors, "Number of latent anchor points")
	flags.Float64Var(&params.Strength, "strength", params.Strength, "Scale applied to sampled anchors")
	flags.BoolVar(&params.Sharpen, "sharpen", false, "Sharpen every frame")
	flags.Uint64Var(&seed, "seed", 0, "Seed for a reproducible walk (random when omitted)")
	flags.BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	flags.BoolVar(&plain, "plain", false, "Print progress lines instead of a progress bar")
	flags.StringVarP(&output, "output", "o", "", "Download the finished video to this path (implies --watch)")
	return cmd
}
