package main

import (
	"os"

	"github.com/sprite-ai/mutacheck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
