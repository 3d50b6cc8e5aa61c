package main

import (
	"os"

	"github.com/playpenhq/playpen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
