// Package config loads the decoder settings from the environment. A .env
// file, when present, seeds variables that are not already set.
//
//	CARD_DECODER_READER=ACR122
//	CARD_DECODER_DEBUG=true
//	CARD_DECODER_KEYS=keys.yaml
//	CARD_DECODER_TIMEOUT=1m
//
// Command line flags override what is loaded here.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
)

// Environment variables.
const (
	EnvReader  = "CARD_DECODER_READER"
	EnvDebug   = "CARD_DECODER_DEBUG"
	EnvKeys    = "CARD_DECODER_KEYS"
	EnvTimeout = "CARD_DECODER_TIMEOUT"
)

// DefaultTimeout is how long scan waits for a card.
const DefaultTimeout = 30 * time.Second

type Config struct {
	// Reader selects the first PC/SC reader whose name contains it.
	Reader string
	Debug  bool
	// KeysFile is a YAML key dictionary tried after the built-in keys.
	KeysFile string
	Timeout  time.Duration
}

// Load reads envFile, then the environment. A missing file is not an
// error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		switch {
		case err == nil:
			log.WithField("file", envFile).Debug("Environment file loaded")
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, err
		}
	}

	c := Config{
		Reader:   os.Getenv(EnvReader),
		KeysFile: os.Getenv(EnvKeys),
		Timeout:  DefaultTimeout,
	}

	if v, ok := os.LookupEnv(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, &InvalidError{Name: EnvDebug, Value: v, Err: err}
		}
		c.Debug = debug
	}

	if v, ok := os.LookupEnv(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, &InvalidError{Name: EnvTimeout, Value: v, Err: err}
		}
		c.Timeout = d
	}

	return c, nil
}

// InvalidError reports a variable that does not parse.
type InvalidError struct {
	Name  string
	Value string
	Err   error
}

func (e *InvalidError) Error() string {
	return e.Name + "=" + strconv.Quote(e.Value) + ": " + e.Err.Error()
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Dictionary returns the built-in keys followed by the keys of KeysFile.
func (c Config) Dictionary() (card.Dictionary, error) {
	dict := card.WellKnownKeys()
	if c.KeysFile == "" {
		return dict, nil
	}

	data, err := os.ReadFile(c.KeysFile)
	if err != nil {
		return nil, err
	}
	extra, err := card.LoadDictionary(data)
	if err != nil {
		return nil, err
	}
	return append(dict, extra...), nil
}
