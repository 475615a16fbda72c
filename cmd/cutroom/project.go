package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cutroom/backend/internal/services"
)

func newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Work with project files",
	}
	cmd.AddCommand(newProjectConvertCommand())
	return cmd
}

func newProjectConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "convert <in> <out>",
		Short:       "Convert a project between JSON, YAML and TOML",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := convertProject(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d segment(s))\n", args[1], n)
			return nil
		},
	}
}

func convertProject(in, out string) (int, error) {
	inFormat, err := services.FormatFromPath(in)
	if err != nil {
		return 0, err
	}
	outFormat, err := services.FormatFromPath(out)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return 0, err
	}
	project, err := services.DecodeProject(data, inFormat)
	if err != nil {
		return 0, err
	}
	encoded, err := services.EncodeProject(project, outFormat)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return 0, err
	}
	return len(project.Segments), nil
}
