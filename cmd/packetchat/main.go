package main

import (
	"os"

	"github.com/opd-ai/packetnet/cmd/packetchat/cmd"
)

func main() {
	if err := cmd.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
