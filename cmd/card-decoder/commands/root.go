// Package commands implements the card-decoder command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregLibert/card-decoder/pkg/cards"
	"github.com/gregLibert/card-decoder/pkg/config"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
)

const unrecognized = "Unrecognized card"

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	cfg config.Config
	log *log.Logger

	envFile  string
	debug    bool
	reader   string
	keysFile string
	timeout  time.Duration
}

func (a *app) pipeline() (*recognizer.Pipeline, error) {
	dict, err := a.cfg.Dictionary()
	if err != nil {
		return nil, err
	}
	return cards.NewPipeline(a.log, dict), nil
}

// Execute runs the command line until it completes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRoot().ExecuteContext(ctx)
}

func newRoot() *cobra.Command {
	a := &app{log: log.New()}

	root := &cobra.Command{
		Use:          "card-decoder",
		Short:        "Decode contactless transit, payment and NFC cards",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("debug") {
				cfg.Debug = a.debug
			}
			if flags.Changed("reader") {
				cfg.Reader = a.reader
			}
			if flags.Changed("keys") {
				cfg.KeysFile = a.keysFile
			}
			if flags.Changed("timeout") {
				cfg.Timeout = a.timeout
			}
			a.cfg = cfg

			a.log.SetOutput(cmd.ErrOrStderr())
			if cfg.Debug {
				a.log.SetLevel(log.DebugLevel)
				a.log.SetFormatter(&debugTextFormatter{&log.TextFormatter{}})
			} else {
				a.log.SetLevel(log.WarnLevel)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", ".env", "environment file read before the environment")
	pf.BoolVar(&a.debug, "debug", false, "log card exchanges ("+config.EnvDebug+")")
	pf.StringVar(&a.reader, "reader", "", "PC/SC reader name substring ("+config.EnvReader+")")
	pf.StringVar(&a.keysFile, "keys", "", "extra MIFARE Classic key dictionary ("+config.EnvKeys+")")
	pf.DurationVar(&a.timeout, "timeout", config.DefaultTimeout, "how long to wait for a card ("+config.EnvTimeout+")")

	root.AddCommand(decodeCmd(a), scanCmd(a), readersCmd(a), familiesCmd())
	return root
}
