// Command sysmasterd is the manager: it loads the unit tree, runs the
// event loop, and serves the control sockets (§4, §6).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gosv/sysmaster/internal/logging"
	"github.com/gosv/sysmaster/internal/manager"
)

func main() {
	unitDir := flag.String("unit-dir", "/etc/sysmaster/system", "directory containing unit files")
	journalPath := flag.String("journal", "/var/lib/sysmaster/journal.log", "reliability journal path")
	target := flag.String("target", "default.target", "initial unit to start")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logging.New(os.Stderr, *debug)
	log.Info().Int("pid", os.Getpid()).Msg("sysmasterd starting")

	m, err := manager.New(*unitDir, *journalPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysmasterd: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.LoadInitialUnit(*target); err != nil {
		log.Error().Err(err).Str("target", *target).Msg("failed to load initial target")
		os.Exit(1)
	}

	if err := m.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sysmasterd: %v\n", err)
		os.Exit(1)
	}
}
