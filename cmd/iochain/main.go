package main

import (
	"os"

	"github.com/tkingovr/iochain/cmd/iochain/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
