package main

import (
	"fmt"
	"os"

	"github.com/JovieInc/Jovie-sub015/internal/ctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
