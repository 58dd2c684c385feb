package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/card-decoder/pkg/cards"
)

func familiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List card families in the order they are tried",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, r := range cards.Recognizers(nil) {
				protocol := "any"
				if r.Protocol != 0 {
					protocol = r.Protocol.String()
				}
				fmt.Fprintf(out, "%d. %s (%s)\n", i+1, r.Name, protocol)
			}
			return nil
		},
	}
}
