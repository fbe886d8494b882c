package main

import (
	"os"

	"github.com/vultisig/vultisig-mediator/cmd/mediator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
