// Package manager is the top-level wiring of the service manager (§4,
// C1-C14 taken together): it owns the event loop and every long-lived
// component — unit database, loader, job manager, child registry, spawner,
// cgroup manager, reliability journal, and control listeners — and runs
// the single-threaded dispatch loop that ties them together. It replaces
// the teacher's Supervisor with the same restart/reap/shutdown shape,
// generalized from one fixed process list to the full unit graph.
package manager

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/cgroupfs"
	"github.com/gosv/sysmaster/internal/childreg"
	"github.com/gosv/sysmaster/internal/control"
	"github.com/gosv/sysmaster/internal/eventloop"
	"github.com/gosv/sysmaster/internal/job"
	"github.com/gosv/sysmaster/internal/journal"
	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/spawn"
	"github.com/gosv/sysmaster/internal/unitdb"
	"github.com/gosv/sysmaster/internal/unitload"
)

// Manager owns every long-lived component of the running instance.
type Manager struct {
	loop *eventloop.Loop

	db      *unitdb.DB
	queues  *queue.Queues
	reg     *childreg.Registry
	cg      *cgroupfs.Manager
	spawner *spawn.Spawner
	loader  *unitload.Loader
	jobs    *job.Manager
	journal *journal.Journal

	controlListeners []*control.Listener

	log      zerolog.Logger
	stopping bool
}

// New builds every component and wires them together, replaying any
// reliability journal frames left open by an unclean prior shutdown.
func New(unitDir, journalPath string, log zerolog.Logger) (*Manager, error) {
	log = log.With().Str("component", "manager").Logger()

	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("manager: event loop: %w", err)
	}

	jrnl, pending, err := journal.Open(journalPath, log)
	if err != nil {
		return nil, fmt.Errorf("manager: journal: %w", err)
	}
	for _, f := range pending {
		log.Warn().Uint64("frame", f.ID).Str("label", f.Label).
			Msg("resuming after a frame left open by an unclean shutdown")
	}

	db := unitdb.New()
	queues := queue.New()
	reg := childreg.New()
	cg := cgroupfs.NewManager(log)
	sp := spawn.New(reg, cg, log)
	timers := newLoopTimers(loop, log)

	ld := unitload.New(unitDir, db, queues, sp, reg, timers, log)
	jobs := job.New(db, ld, log)

	return &Manager{
		loop:    loop,
		db:      db,
		queues:  queues,
		reg:     reg,
		cg:      cg,
		spawner: sp,
		loader:  ld,
		jobs:    jobs,
		journal: jrnl,
		log:     log,
	}, nil
}

// Close releases every resource New acquired. Safe to call once, after Run
// returns.
func (m *Manager) Close() error {
	for _, l := range m.controlListeners {
		_ = l.Close()
	}
	if err := m.journal.Close(); err != nil {
		m.log.Warn().Err(err).Msg("journal close failed")
	}
	if err := m.cg.CleanupCgroups(); err != nil {
		m.log.Warn().Err(err).Msg("cgroup cleanup failed")
	}
	return m.loop.Close()
}
