package main

import (
	"github.com/BioHazard786/Meetlink/cmd"
	"github.com/BioHazard786/Meetlink/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	logging.Init(zerolog.ErrorLevel)
	cmd.Execute()
}
