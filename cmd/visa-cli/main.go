package main

import (
	"github.com/reddmonchick/VisaScraper/cmd/visa-cli/cmd"
)

func main() {
	cmd.Execute()
}
