// Command sysmaster-init is the PID-1 supervisor: it forks sysmasterd,
// waits on it, restarts it with backoff on an unclean exit, and reaps
// every other child reparented to it as process 1 (§1, §6).
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// sigrtmin mirrors the same hardcoded kernel base used by the manager;
// Go exposes no portable SIGRTMIN constant.
const sigrtmin = 34

// sigReexecReady is the "manager ready, reexec now" signal of §6. This
// supervisor only logs the event: a full reexec/switch-root of PID 1
// itself is out of scope for what this tree builds.
const sigReexecReady = syscall.Signal(sigrtmin + 7)

// sigSwitchRoot is "prepare switch-root" (§6 names the signal but not its
// offset in the retrieved source; 1 is picked as the next free real-time
// slot after sigReexecReady's 7 and documented as a decision, not a
// transcription, in the design notes).
const sigSwitchRoot = syscall.Signal(sigrtmin + 1)

const (
	restartDelay  = time.Second
	backoffFactor = 2.0
	maxRestarts   = 8
	stableAfter   = 60 * time.Second
)

type managedChild struct {
	mu        sync.Mutex
	binPath   string
	args      []string
	cmd       *exec.Cmd
	pid       int
	restarts  int
	startTime time.Time
}

func (c *managedChild) start() error {
	cmd := exec.Command(c.binPath, c.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.binPath, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.startTime = time.Now()
	c.mu.Unlock()

	fmt.Printf("[sysmaster-init] started %s pid=%d\n", c.binPath, c.pid)
	return nil
}

func main() {
	binPath := flag.String("manager", "/usr/lib/sysmaster/sysmasterd", "path to the sysmasterd binary")
	flag.Parse()

	child := &managedChild{binPath: *binPath, args: os.Args[1:]}
	if err := child.start(); err != nil {
		fmt.Fprintf(os.Stderr, "sysmaster-init: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh, syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT, sigReexecReady, sigSwitchRoot)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGCHLD:
			reapAndMaybeRestart(child)

		case syscall.SIGTERM, syscall.SIGINT:
			child.mu.Lock()
			pid := child.pid
			child.mu.Unlock()
			if pid != 0 {
				_ = syscall.Kill(pid, syscall.SIGTERM)
			}
			os.Exit(0)

		case sigReexecReady:
			fmt.Println("[sysmaster-init] manager ready")

		case sigSwitchRoot:
			fmt.Println("[sysmaster-init] switch-root requested (not implemented)")
		}
	}
}

// reapAndMaybeRestart drains every zombie this process owns — including
// grandchildren reparented to PID 1 — and restarts the supervised manager
// with exponential backoff if it was the one that exited (§6's "init
// supervisor treats non-clean exits as triggers to recreate").
func reapAndMaybeRestart(child *managedChild) {
	for {
		var wstatus syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &wstatus, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}

		child.mu.Lock()
		isOurs := pid == child.pid
		uptime := time.Since(child.startTime)
		if isOurs {
			child.pid = 0
		}
		child.mu.Unlock()
		if !isOurs {
			// A reparented grandchild, reaped because we're PID 1.
			continue
		}

		exitCode := 0
		if wstatus.Exited() {
			exitCode = wstatus.ExitStatus()
		} else if wstatus.Signaled() {
			exitCode = 128 + int(wstatus.Signal())
		}
		fmt.Printf("[sysmaster-init] manager exited code=%d uptime=%v\n", exitCode, uptime)

		if exitCode == 0 {
			os.Exit(0)
		}

		child.mu.Lock()
		if uptime > stableAfter {
			child.restarts = 0
		}
		if child.restarts >= maxRestarts {
			child.mu.Unlock()
			fmt.Println("[sysmaster-init] manager exhausted restart budget, giving up")
			os.Exit(1)
		}
		child.restarts++
		attempt := child.restarts
		child.mu.Unlock()

		delay := time.Duration(float64(restartDelay) * math.Pow(backoffFactor, float64(attempt-1)))
		fmt.Printf("[sysmaster-init] restarting manager in %v (attempt %d/%d)\n", delay, attempt, maxRestarts)
		go func() {
			time.Sleep(delay)
			if err := child.start(); err != nil {
				fmt.Fprintf(os.Stderr, "[sysmaster-init] restart failed: %v\n", err)
			}
		}()
	}
}
