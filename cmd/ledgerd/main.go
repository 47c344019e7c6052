package main

import (
	"os"

	"github.com/leafsii/leafsii-lending/cmd/ledgerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
