// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Command etlcore is the process entrypoint for the ETL orchestrator,
// exposing schema/DDL inspection and job control over a cobra CLI, per §6.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chcoord/etl-core/internal/cli"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	root := cli.NewRoot()
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("etlcore: command failed")
	}
}
