package main

import (
	"os"

	"github.com/gregLibert/card-decoder/cmd/card-decoder/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
