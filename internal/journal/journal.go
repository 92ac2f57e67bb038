// Package journal is the reliability journal (§4.C9): before each major
// frame (command dispatch, state transition) the manager records a
// numeric frame id; after the frame completes, the id is cleared. Spawns
// are not recorded as frames of their own. A frame
// still open when the journal is reopened after a crash identifies exactly
// what the manager was doing when it died, for resume or verification.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Frame is one still-open record found on Open, in the order it was begun.
type Frame struct {
	ID    uint64
	Label string
}

// Journal is an append-only log of begin/clear markers, fsynced on every
// write so a record that made it to disk is durable across a crash — the
// same durability contract as the teacher's cgroup/spawn code gives its own
// filesystem writes, just applied to a log instead of a control file.
type Journal struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	nextID uint64
	log    zerolog.Logger
}

// Open opens (creating if necessary) the journal file at path, replays it
// to find any frames left open by a prior run, and returns both the ready
// Journal and those pending frames for the caller to resume or verify.
func Open(path string, log zerolog.Logger) (*Journal, []Frame, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	pending, lastID, err := replay(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("journal: replay %s: %w", path, err)
	}

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("journal: seek %s: %w", path, err)
	}

	j := &Journal{
		f:      f,
		w:      bufio.NewWriter(f),
		nextID: lastID + 1,
		log:    log.With().Str("component", "journal").Logger(),
	}
	if len(pending) > 0 {
		j.log.Warn().Int("frames", len(pending)).Msg("journal has unresolved frames from a prior run")
	}
	return j, pending, nil
}

// replay reads every line of f and returns the frames that were begun but
// never cleared, in begin order, plus the highest frame id seen (0 if none).
func replay(f *os.File) ([]Frame, uint64, error) {
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		return nil, 0, err
	}

	open := make(map[uint64]string)
	var order []uint64
	var lastID uint64

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.SplitN(sc.Text(), " ", 3)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		if id > lastID {
			lastID = id
		}
		switch fields[0] {
		case "B":
			label := ""
			if len(fields) == 3 {
				label = fields[2]
			}
			if _, exists := open[id]; !exists {
				order = append(order, id)
			}
			open[id] = label
		case "C":
			delete(open, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}

	frames := make([]Frame, 0, len(open))
	for _, id := range order {
		if label, ok := open[id]; ok {
			frames = append(frames, Frame{ID: id, Label: label})
		}
	}
	return frames, lastID, nil
}

// Begin records the start of a major frame and returns its id; the id must
// later be passed to Clear once the frame completes successfully.
func (j *Journal) Begin(label string) (uint64, error) {
	id := atomic.AddUint64(&j.nextID, 1) - 1

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := fmt.Fprintf(j.w, "B %d %s\n", id, label); err != nil {
		return 0, fmt.Errorf("journal: begin %d: %w", id, err)
	}
	if err := j.syncLocked(); err != nil {
		return 0, err
	}
	j.log.Debug().Uint64("frame", id).Str("label", label).Msg("frame begun")
	return id, nil
}

// Clear marks a frame as completed.
func (j *Journal) Clear(id uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := fmt.Fprintf(j.w, "C %d\n", id); err != nil {
		return fmt.Errorf("journal: clear %d: %w", id, err)
	}
	if err := j.syncLocked(); err != nil {
		return err
	}
	j.log.Debug().Uint64("frame", id).Msg("frame cleared")
	return nil
}

func (j *Journal) syncLocked() error {
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	return j.f.Sync()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		j.f.Close()
		return fmt.Errorf("journal: flush on close: %w", err)
	}
	return j.f.Close()
}
