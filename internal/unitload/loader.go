// Package unitload is the unit loader (§4.C4): given an id, it locates the
// unit's definition file, parses it, dispatches to the per-type builder
// (service, target, socket), installs the result in the unit database, and
// enqueues it on the load queue. Load is idempotent: a second call for an
// already-installed id returns the existing unit without touching disk.
package unitload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/service"
	"github.com/gosv/sysmaster/internal/spawn"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitdb"
	"github.com/gosv/sysmaster/internal/unitfile"
)

// ErrNotFound is returned when no definition file exists for the requested
// id, matching the plugin interface's load(id) -> Unit | NotFound contract.
var ErrNotFound = errors.New("unitload: unit not found")

// spawner is the subset of *spawn.Spawner service.New needs; declared here
// (rather than importing spawn.Spawner concretely) so tests can substitute
// a fake without forking real processes.
type spawner interface {
	Spawn(unitID string, argv []string, ctx spawn.ExecContext) (int, error)
}

// childRegistry is the subset of *childreg.Registry the loader and the
// unit handles it builds need.
type childRegistry interface {
	Watch(pid int, unitID string) error
	Unwatch(pid int)
}

// Loader owns the dependencies every per-type builder needs to construct a
// live Impl: the process spawner, the child registry, and a timer source
// for service.Service's timeout knobs.
type Loader struct {
	dir     string
	db      *unitdb.DB
	queues  *queue.Queues
	spawner spawner
	reg     childRegistry
	timers  service.Timers
	log     zerolog.Logger
}

func New(dir string, db *unitdb.DB, queues *queue.Queues, sp spawner, reg childRegistry, timers service.Timers, log zerolog.Logger) *Loader {
	return &Loader{
		dir:     dir,
		db:      db,
		queues:  queues,
		spawner: sp,
		reg:     reg,
		timers:  timers,
		log:     log.With().Str("component", "unitload").Logger(),
	}
}

// Load implements §4.C4. Idempotent: a unit already present in the database
// is returned as-is without re-reading its file.
func (l *Loader) Load(id string) (*unit.Unit, error) {
	if u, ok := l.db.Get(id); ok {
		return u, nil
	}

	typ, err := typeFromID(id)
	if err != nil {
		return nil, err
	}

	file, err := l.readFile(id)
	if err != nil {
		return nil, err
	}

	u := unit.New(id, typ)
	h := &unitHandle{u: u, db: l.db, queues: l.queues, reg: l.reg, log: l.log}

	impl, err := l.buildImpl(id, typ, file, h)
	if err != nil {
		u.LoadState = unit.LoadError
		return nil, fmt.Errorf("unitload: build %s: %w", id, err)
	}
	if err := impl.Load(unit.Section(file[sectionFor(typ)])); err != nil {
		u.LoadState = unit.LoadError
		return nil, fmt.Errorf("unitload: load %s: %w", id, err)
	}

	u.Impl = impl
	u.LoadState = unit.LoadLoaded

	l.db.Insert(u, h)
	l.installEdges(id, file)
	l.queues.EnqueueLoad(id)

	l.log.Info().Str("unit", id).Str("type", typ.String()).Msg("unit loaded")
	return u, nil
}

func (l *Loader) readFile(id string) (unitfile.File, error) {
	path := filepath.Join(l.dir, id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("unitload: open %s: %w", id, err)
	}
	defer f.Close()

	file, err := unitfile.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("unitload: parse %s: %w", id, err)
	}
	return file, nil
}

func (l *Loader) buildImpl(id string, typ unit.Type, file unitfile.File, h unit.Handle) (unit.Impl, error) {
	switch typ {
	case unit.TypeService:
		cfg, err := buildServiceConfig(file)
		if err != nil {
			return nil, err
		}
		svc := service.New(id, h, cfg, l.spawner, l.reg, spawn.Signal, l.timers, l.log)
		return &serviceImpl{svc: svc}, nil
	case unit.TypeTarget:
		return newTargetImpl(h, l.log), nil
	case unit.TypeSocket:
		return newSocketImpl(h, l.log), nil
	default:
		return nil, fmt.Errorf("unitload: unsupported unit type for %s", id)
	}
}

func typeFromID(id string) (unit.Type, error) {
	switch {
	case strings.HasSuffix(id, ".service"):
		return unit.TypeService, nil
	case strings.HasSuffix(id, ".target"):
		return unit.TypeTarget, nil
	case strings.HasSuffix(id, ".socket"):
		return unit.TypeSocket, nil
	default:
		return 0, fmt.Errorf("unitload: %s: unrecognized unit suffix", id)
	}
}

func sectionFor(typ unit.Type) string {
	switch typ {
	case unit.TypeService:
		return "Service"
	case unit.TypeSocket:
		return "Socket"
	default:
		return "Unit"
	}
}

// installEdges installs the [Unit] dependency edges and [Install]'s
// reverse-direction convenience edges (§3 EXPANSION, §6). A WantedBy/
// RequiredBy target that is not yet loaded simply has no 'from' unit for
// AddEdge to attach to yet; the edge is re-established once that unit is
// itself loaded and declares the matching Requires/Wants. The job manager
// follows only Requires/Wants/PartOf edges and does not walk WantedBy.
func (l *Loader) installEdges(id string, file unitfile.File) {
	unitSec := file["Unit"]
	forward := map[string]unit.Atom{
		"Requires":    unit.AtomRequires,
		"Wants":       unit.AtomWants,
		"After":       unit.AtomAfter,
		"Before":      unit.AtomBefore,
		"Conflicts":   unit.AtomConflicts,
		"PartOf":      unit.AtomPartOf,
		"TriggeredBy": unit.AtomTriggeredBy,
	}
	for key, atom := range forward {
		for _, val := range unitSec[key] {
			for _, to := range unitfile.List(val) {
				l.db.AddEdge(id, to, atom)
			}
		}
	}

	installSec := file["Install"]
	reverse := map[string]unit.Atom{
		"WantedBy":   unit.AtomWants,
		"RequiredBy": unit.AtomRequires,
	}
	for key, atom := range reverse {
		for _, val := range installSec[key] {
			for _, from := range unitfile.List(val) {
				l.db.AddEdge(from, id, atom)
			}
		}
	}
}
