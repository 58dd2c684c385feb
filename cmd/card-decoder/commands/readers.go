package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/card-decoder/pkg/pcsc"
)

func readersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List PC/SC readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := pcsc.Open()
			if err != nil {
				return err
			}
			defer sc.Close()
			sc.Log = a.log

			readers, err := sc.Readers()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(readers) == 0 {
				fmt.Fprintln(out, "No reader found")
				return nil
			}
			for _, r := range readers {
				fmt.Fprintln(out, r)
			}
			return nil
		},
	}
}
