package main

import (
	"fmt"
	"os"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

const appName = "[factmem]"

func main() {
	defer logger.Sync()
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
