package unitload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosv/sysmaster/internal/service"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitfile"
)

// serviceImpl adapts *service.Service to unit.Impl. Service's own
// constructor needs its Config (commands, timeouts, exit-status sets)
// up front along with a live unit.Handle, so the real parsing happens in
// buildServiceConfig before this adapter exists; Load itself is therefore
// a no-op conformance method rather than a second parse pass.
type serviceImpl struct {
	svc *service.Service
}

func (s *serviceImpl) Load(section unit.Section) error { return nil }

func (s *serviceImpl) Start()  { s.svc.Start() }
func (s *serviceImpl) Stop()   { s.svc.Stop() }
func (s *serviceImpl) Reload() { s.svc.Reload() }
func (s *serviceImpl) SigchldEvent(pid, exitCode, termSignal int) {
	s.svc.SigchldEvent(pid, exitCode, termSignal)
}
func (s *serviceImpl) Dump() string   { return s.svc.Dump() }
func (s *serviceImpl) Coldplug()      { s.svc.Coldplug() }
func (s *serviceImpl) CheckGC() bool  { return s.svc.CheckGC() }
func (s *serviceImpl) ResetFailed()   { s.svc.ResetFailed() }

// stageKeys maps each exec-command §6 key to the service.Stage it feeds.
var stageKeys = map[string]service.Stage{
	"ExecCondition":  service.StageCondition,
	"ExecStartPre":   service.StagePreStart,
	"ExecStart":      service.StageStart,
	"ExecStartPost":  service.StagePostStart,
	"ExecReload":     service.StageReload,
	"ExecStop":       service.StageStop,
	"ExecStopPost":   service.StagePostStop,
}

var restartPolicies = map[string]service.RestartPolicy{
	"no":          service.RestartNo,
	"on-success":  service.RestartOnSuccess,
	"on-failure":  service.RestartOnFailure,
	"on-abnormal": service.RestartOnAbnormal,
	"on-watchdog": service.RestartOnWatchdog,
	"on-abort":    service.RestartOnAbort,
	"always":      service.RestartAlways,
}

var serviceTypes = map[string]service.Type{
	"simple":  service.TypeSimple,
	"forking": service.TypeForking,
	"oneshot": service.TypeOneshot,
	"dbus":    service.TypeDBus,
	"notify":  service.TypeNotify,
	"idle":    service.TypeIdle,
}

// buildServiceConfig translates a parsed [Service] section into
// service.Config, per the recognized-key list of §6.
func buildServiceConfig(file unitfile.File) (service.Config, error) {
	svc := file["Service"]

	cfg := service.Config{
		Type:          serviceTypeOf(last(svc["Type"])),
		RestartPolicy: restartPolicies[last(svc["Restart"])],
		Commands:      map[service.Stage][]service.Command{},
		SuccessStatus: map[int]bool{},
		PreventStatus: map[int]bool{},
		ForceStatus:   map[int]bool{},
	}

	for key, stage := range stageKeys {
		cmds, err := parseCommands(svc[key])
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", key, err)
		}
		if len(cmds) > 0 {
			cfg.Commands[stage] = cmds
		}
	}

	var err error
	if cfg.TimeoutStart, err = parseDurationSeconds(last(svc["TimeoutStartSec"])); err != nil {
		return cfg, fmt.Errorf("TimeoutStartSec: %w", err)
	}
	if cfg.TimeoutStop, err = parseDurationSeconds(last(svc["TimeoutStopSec"])); err != nil {
		return cfg, fmt.Errorf("TimeoutStopSec: %w", err)
	}
	if cfg.TimeoutAbort, err = parseDurationSeconds(last(svc["TimeoutAbortSec"])); err != nil {
		return cfg, fmt.Errorf("TimeoutAbortSec: %w", err)
	}
	if cfg.RuntimeMax, err = parseDurationSeconds(last(svc["RuntimeMaxSec"])); err != nil {
		return cfg, fmt.Errorf("RuntimeMaxSec: %w", err)
	}
	if cfg.RestartSec, err = parseDurationSeconds(last(svc["RestartSec"])); err != nil {
		return cfg, fmt.Errorf("RestartSec: %w", err)
	}
	if cfg.WatchdogUsec, err = parseDurationSeconds(last(svc["WatchdogSec"])); err != nil {
		return cfg, fmt.Errorf("WatchdogSec: %w", err)
	}

	cfg.SuccessStatus = parseStatusSet(svc["SuccessExitStatus"])
	cfg.PreventStatus = parseStatusSet(svc["RestartPreventExitStatus"])
	cfg.ForceStatus = parseStatusSet(svc["RestartForceExitStatus"])

	return cfg, nil
}

func serviceTypeOf(val string) service.Type {
	if t, ok := serviceTypes[val]; ok {
		return t
	}
	return service.TypeSimple
}

func last(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// parseCommands expands every repeated key assignment's comma-separated
// command list, in file order, into service.Command records.
func parseCommands(vals []string) ([]service.Command, error) {
	var out []service.Command
	for _, val := range vals {
		for _, c := range unitfile.SplitCommands(val) {
			if len(c.Argv) == 0 {
				return nil, fmt.Errorf("empty command in %q", val)
			}
			out = append(out, service.Command{Argv: c.Argv, Tolerate: c.Tolerate})
		}
	}
	return out, nil
}

// parseDurationSeconds accepts either a Go duration literal ("100ms", "1s")
// or a bare number of seconds ("1"), the two forms §6's *Sec keys appear in
// across the example scenarios of §8.
func parseDurationSeconds(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", val)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

var namedSignals = map[string]int{
	"SIGHUP": 1, "SIGINT": 2, "SIGQUIT": 3, "SIGABRT": 6,
	"SIGKILL": 9, "SIGTERM": 15, "SIGCONT": 18, "SIGSTOP": 19,
}

// parseStatusSet parses a space/comma separated set of exit codes and/or
// signal names (§6) into the lookup map service.Config's status sets use.
func parseStatusSet(vals []string) map[int]bool {
	out := map[int]bool{}
	for _, val := range vals {
		for _, tok := range unitfile.List(val) {
			if n, err := strconv.Atoi(tok); err == nil {
				out[n] = true
				continue
			}
			if n, ok := namedSignals[strings.ToUpper(tok)]; ok {
				out[n] = true
			}
		}
	}
	return out
}
