package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/pcsc"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
)

func scanCmd(a *app) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Wait for a card on a PC/SC reader and decode it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.pipeline()
			if err != nil {
				return err
			}

			sc, err := pcsc.Open()
			if err != nil {
				return err
			}
			defer sc.Close()
			sc.Log = a.log

			reader, err := sc.FindReader(a.cfg.Reader)
			if err != nil {
				return err
			}
			if err := sc.WaitForCard(ctx, reader, a.cfg.Timeout); err != nil {
				return err
			}
			c, err := sc.Connect(reader)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			var img *card.Image

			res, err := p.Recognize(ctx, c)
			switch {
			case errors.Is(err, recognizer.ErrUnrecognizedCard):
				fmt.Fprintln(out, unrecognized)
				if save != "" {
					dict, err := a.cfg.Dictionary()
					if err != nil {
						return err
					}
					dumper := &card.Reader{Keys: dict, Log: a.log}
					if img, err = dumper.Read(ctx, c); err != nil {
						return err
					}
				}
			case err != nil:
				return err
			default:
				fmt.Fprintln(out, res.Report())
				img = res.Image
			}

			if save == "" || img == nil {
				return nil
			}
			return saveImage(save, img)
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "write the card image to this YAML file")
	return cmd
}

func saveImage(path string, img *card.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := img.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
