// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"
)

// Shell commands understood by the snooper firmware
const (
	shellReset = "reset\n"
	shellStart = "start\n"
	shellStop  = "stop\n"
)

// control executes session commands one at a time. It tracks whether a
// session is open; start while open and stop while closed are no-ops.
func (p *Pipeline) control() {
	recording := false

	if !p.sleep(p.opts.StartupDelay) {
		return
	}
	select {
	case <-p.flushed:
	case <-p.done:
		return
	}
	p.log.Info("ready to capture")

	if p.opts.AutoStart {
		recording = p.startSession()
	}

	for {
		select {
		case cmd := <-p.commands:
			p.log.WithField("command", cmd.String()).Debug("session command")
			switch cmd {
			case CommandStart:
				if recording {
					p.log.Info("capture already running")
					continue
				}
				recording = p.startSession()
			case CommandStop:
				if !recording {
					continue
				}
				p.stopSession()
				recording = false
			case CommandToggle:
				if recording {
					p.stopSession()
					recording = false
				} else {
					recording = p.startSession()
				}
			case CommandShutdown:
				p.halt(nil)
			}
		case <-p.done:
			if recording {
				if err := p.writeShell(shellStop); err != nil {
					p.log.WithError(err).Warn("stop on shutdown failed")
				}
			}
			return
		}
	}
}

// startSession opens a capture file, then resets and starts the snooper.
// It reports whether a file is open afterwards.
func (p *Pipeline) startSession() bool {
	session, err := p.requestFile(true)
	if err != nil {
		if !errors.Is(err, errStopped) {
			p.log.WithError(err).Error("cannot start capture")
			p.emit(Event{Kind: EventShellError, Err: err})
		}
		return false
	}

	p.resync.Store(true)
	if err := p.writeShell(shellReset); err != nil {
		p.abortSession(err)
		return false
	}
	if !p.sleep(p.opts.ResetSettle) {
		// shutting down; the file is open so a stop is still sent
		return true
	}
	if err := p.writeShell(shellStart); err != nil {
		p.abortSession(err)
		return false
	}

	p.log.WithField("file", session.Path).Info("capture started")
	return true
}

// stopSession stops the snooper and closes the capture file
func (p *Pipeline) stopSession() {
	if err := p.writeShell(shellStop); err != nil {
		p.log.WithError(err).Warn("stop command failed")
	}
	if _, err := p.requestFile(false); err != nil && !errors.Is(err, errStopped) {
		p.log.WithError(err).Error("closing capture file")
	}
}

// abortSession closes a file whose session could not be started
func (p *Pipeline) abortSession(cause error) {
	p.log.WithError(cause).Error("shell command failed; closing capture file")
	p.emit(Event{Kind: EventShellError, Err: cause})
	if _, err := p.requestFile(false); err != nil && !errors.Is(err, errStopped) {
		p.log.WithError(err).Error("closing capture file")
	}
}

func (p *Pipeline) writeShell(cmd string) error {
	if _, err := p.roles.Shell.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("shell %s: write %q: %w", p.roles.Shell.Name(), cmd, err)
	}
	return nil
}
