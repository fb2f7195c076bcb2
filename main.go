package main

import (
	"os"

	"github.com/avereha/podcomm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
