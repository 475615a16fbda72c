package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cutroom/backend/internal/filtergraph"
	"github.com/cutroom/backend/internal/profile"
)

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "presets",
		Short:       "List quality presets, resolutions and effects",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			qualities := profile.Qualities()
			rows := make([][]string, len(qualities))
			for i, q := range qualities {
				rows[i] = []string{q.Name, fmt.Sprint(q.CRF), q.Preset, fmt.Sprintf("%g Mbps", q.BitrateMbps)}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Quality", "CRF", "Preset", "Bitrate"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight},
			))

			resolutions := profile.Resolutions()
			rows = make([][]string, len(resolutions))
			for i, r := range resolutions {
				size := "source"
				if r.Width > 0 {
					size = fmt.Sprintf("%dx%d", r.Width, r.Height)
				}
				rows[i] = []string{r.Name, size}
			}
			fmt.Fprintln(out, renderTable([]string{"Resolution", "Size"}, rows, nil))

			fmt.Fprintf(out, "Effects: %s\n", strings.Join(filtergraph.EffectTypes(), ", "))
			return nil
		},
	}
}
