package main

import (
	"github.com/BioHazard786/livestream/cmd"
	"github.com/BioHazard786/livestream/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
