package main

import (
	"os"

	"github.com/quazardous/sailing/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
