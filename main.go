package main

import (
	"os"

	"github.com/bhavesh0009/NFO-dashboard/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
