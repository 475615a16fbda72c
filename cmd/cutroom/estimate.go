package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cutroom/backend/internal/profile"
)

func newEstimateCommand() *cobra.Command {
	var (
		quality string
		bitrate float64
		minutes float64
	)

	cmd := &cobra.Command{
		Use:         "estimate",
		Short:       "Estimate the output size of an encode",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if bitrate == 0 {
				p, err := profile.NewResolver().ResolveDefaults(quality, "", 0)
				if err != nil {
					return err
				}
				bitrate = p.BitrateMbps
			}
			est, err := profile.EstimateSize(bitrate, minutes)
			if err != nil {
				return err
			}
			bytes := uint64(est.MB * 1024 * 1024)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s GB, ~%s) at %g Mbps for %g min\n",
				est.Formatted, est.GB, humanize.IBytes(bytes), bitrate, minutes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", "", "Quality preset supplying the bitrate")
	cmd.Flags().Float64VarP(&bitrate, "bitrate", "b", 0, "Bitrate in Mbps (overrides --quality)")
	cmd.Flags().Float64VarP(&minutes, "minutes", "m", 0, "Duration in minutes")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}
