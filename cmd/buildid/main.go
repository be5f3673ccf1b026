package main

import (
	"fmt"
	"os"

	"github.com/go-delve/buildid/cmd/buildid/cmds"
)

func main() {
	if err := cmds.New(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
