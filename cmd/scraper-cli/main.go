package main

import (
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/cmd/scraper-cli/cmd"
)

func main() {
	cmd.Execute()
}
