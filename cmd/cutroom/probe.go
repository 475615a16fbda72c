package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/models"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <file>...",
		Short: "Describe media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			cfg := ctx.cfg
			engine := ffmpeg.NewExecutor(ffmpeg.Options{
				FFmpegPath:   cfg.FFmpeg.Path,
				FFprobePath:  cfg.FFmpeg.ProbePath,
				ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
			}, logger)

			assets := make([]*models.MediaAsset, 0, len(args))
			for _, path := range args {
				asset, err := engine.Probe(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				assets = append(assets, asset)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(assets)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"File", "Format", "Duration", "Size", "Video", "Audio"},
				probeRows(assets),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the probe results as JSON")
	return cmd
}

func probeRows(assets []*models.MediaAsset) [][]string {
	rows := make([][]string, 0, len(assets))
	for _, a := range assets {
		video, audio := "-", "-"
		if a.Video != nil {
			video = fmt.Sprintf("%s %dx%d @ %s fps", a.Video.Codec, a.Video.Width, a.Video.Height, strconv.FormatFloat(a.Video.FPS, 'f', -1, 64))
		}
		if a.Audio != nil {
			audio = fmt.Sprintf("%s %d Hz %dch", a.Audio.Codec, a.Audio.SampleRate, a.Audio.Channels)
		}
		size := "-"
		if a.Size > 0 {
			size = humanize.Bytes(uint64(a.Size))
		}
		rows = append(rows, []string{a.Path, a.FormatName, formatSeconds(a.Duration), size, video, audio})
	}
	return rows
}

// formatSeconds renders a duration as h:mm:ss.mmm.
func formatSeconds(v float64) string {
	ms := int64(v*1000 + 0.5)
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms%1000)
}
