package manager

import (
	"fmt"

	"github.com/gosv/sysmaster/internal/control"
	"github.com/gosv/sysmaster/internal/job"
)

// controlDispatcher implements control.Dispatcher by routing each RPC verb
// to the job manager, journaling the dispatch as one major frame (§4.C9).
type controlDispatcher struct {
	m *Manager
}

func (d *controlDispatcher) Dispatch(req control.Request) control.Response {
	return d.m.handleCommand(req)
}

func (m *Manager) handleCommand(req control.Request) control.Response {
	label := fmt.Sprintf("command %s %s", req.Verb, req.Unit)
	id, ferr := m.journal.Begin(label)
	if ferr != nil {
		m.log.Warn().Err(ferr).Msg("journal begin failed")
	}
	defer func() {
		if ferr == nil {
			if err := m.journal.Clear(id); err != nil {
				m.log.Warn().Err(err).Msg("journal clear failed")
			}
		}
	}()

	switch req.Verb {
	case "start":
		return m.submitJob(req.Unit, job.VerbStart)
	case "stop":
		return m.submitJob(req.Unit, job.VerbStop)
	case "reload":
		return m.submitJob(req.Unit, job.VerbReload)
	case "restart":
		return m.submitJob(req.Unit, job.VerbRestart)
	case "status":
		return m.statusOf(req.Unit)
	default:
		return control.Response{Code: 1, Message: fmt.Sprintf("unknown verb %q", req.Verb)}
	}
}

func (m *Manager) submitJob(unitID string, verb job.Verb) control.Response {
	if _, err := m.jobs.Submit(unitID, verb, job.ModeReplace); err != nil {
		return control.Response{Code: 1, Message: err.Error()}
	}
	return control.Response{Code: 0, Message: "ok"}
}

func (m *Manager) statusOf(unitID string) control.Response {
	u, ok := m.db.Get(unitID)
	if !ok {
		return control.Response{Code: 1, Message: "unit not loaded"}
	}
	if u.Impl == nil {
		return control.Response{Code: 1, Message: "unit has no implementation"}
	}
	return control.Response{Code: 0, Message: u.Impl.Dump()}
}
