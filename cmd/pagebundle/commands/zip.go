package commands

import (
	"fmt"

	"pagebundle/internal/archive"
	"pagebundle/internal/components/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(zipCmd)
}

var zipCmd = &cobra.Command{
	Use:   "zip <folder>",
	Short: "Archives a folder into <folder>.zip next to it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := archive.NewArchiver(telemetry.SlogAPI{}).Zip(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
