package main

import (
	"fmt"
	"os"

	"github.com/accountdesk/accountdesk/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultOptions())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
