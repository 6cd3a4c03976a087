package main

import (
	"os"

	"github.com/rustyeddy/tradehost/cmd/tradehost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
