package main

import (
	"fmt"
	"os"

	"github.com/webssh2/webssh2/cmd/webssh2/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
