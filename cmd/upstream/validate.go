package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/core"
)

func newValidateCmd(_ *app) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "validate PATH...",
		Short: "Check CSV files against the sensor or measurement schema",
		Long: `Checks required columns and per-row values locally, without contacting
the server. Every file is checked; the command fails if any file is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := core.ParseRole(role)
			if err != nil {
				return err
			}

			var failed int
			for _, path := range args {
				file, err := core.Resolve(core.FromPath(path), r)
				if err == nil {
					var res core.ValidationSummary
					if res, err = core.ValidateFile(file); err == nil {
						cmd.Printf("%s: %s\n", path, res.Message)
						continue
					}
				}
				failed++
				cmd.PrintErrf("%s: %v\n", path, err)
			}

			if failed > 0 {
				return &core.ValidationError{
					Message: fmt.Sprintf("%d of %d %s files failed validation", failed, len(args), r),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(core.RoleMeasurements), "File type: sensors or measurements")
	return cmd
}
