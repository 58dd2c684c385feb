package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
)

func decodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <dump.yaml>...",
		Short: "Decode card images saved by scan --save",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for i, path := range args {
				if len(args) > 1 {
					if i > 0 {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "==> %s <==\n", path)
				}

				img, err := loadImage(path)
				if err != nil {
					return err
				}
				res, err := p.Decode(cmd.Context(), img)
				if errors.Is(err, recognizer.ErrUnrecognizedCard) {
					fmt.Fprintln(out, unrecognized)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res.Report())
			}
			return nil
		},
	}
}

func loadImage(path string) (*card.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := card.LoadImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
