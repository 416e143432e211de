package cmd

import (
	"fmt"

	"github.com/sarchlab/securebounce/bounce"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [filter...]",
	Short: "List the scenarios.",
	Long:  "`list` prints the scenarios, in run order, that match the filters.",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := bounce.Select(args...)
		if err != nil {
			return err
		}

		for _, sc := range scenarios {
			fmt.Fprintln(cmd.OutOrStdout(), sc.Name)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
