package main

import (
	"os"

	"github.com/bankabc/voicegate/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
