// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/pdscope/pkg/catalog"
	"github.com/Thermoquad/pdscope/pkg/snooper"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

const recorderTimeout = 5 * time.Second

// fileRequest asks the drain goroutine to open or close the capture file
type fileRequest struct {
	open  bool
	reply chan fileReply
}

type fileReply struct {
	session *catalog.Session
	err     error
}

// captureFile is the open capture file and its session counters
type captureFile struct {
	f              *os.File
	w              *bufio.Writer
	session        catalog.Session
	droppedAtStart uint64
}

// drain moves records from the buffer to the capture file. It owns the
// file: control asks for opens and closes over fileReqs.
func (p *Pipeline) drain() {
	for {
		select {
		case req := <-p.fileReqs:
			var rep fileReply
			if req.open {
				rep.session, rep.err = p.openFile()
			} else {
				p.drainAvailable()
				rep.session, rep.err = p.closeFile()
			}
			req.reply <- rep
		case <-p.buf.Ready():
			p.drainAvailable()
		case <-p.done:
			p.drainAvailable()
			if _, err := p.closeFile(); err != nil {
				p.log.WithError(err).Error("closing capture file")
			}
			return
		}
	}
}

// requestFile sends an open or close request to drain and waits for the
// result
func (p *Pipeline) requestFile(open bool) (*catalog.Session, error) {
	req := fileRequest{open: open, reply: make(chan fileReply, 1)}
	select {
	case p.fileReqs <- req:
	case <-p.done:
		return nil, errStopped
	}
	rep := <-req.reply
	return rep.session, rep.err
}

func (p *Pipeline) drainAvailable() {
	for {
		r, ok := p.buf.Pop()
		if !ok {
			break
		}
		p.handleRecord(&r)
	}
	if p.file != nil {
		if err := p.file.w.Flush(); err != nil {
			p.log.WithError(err).Error("flushing capture file")
		}
	}
}

// handleRecord decodes one record for statistics and live display and
// appends it to the open file. Records failing the CRC are still written.
func (p *Pipeline) handleRecord(r *stream.Record) {
	raw := r[:]

	var (
		anomalies []snooper.ValidationError
		decodeErr error
	)
	dp, err := snooper.Inspect(raw)
	if err != nil {
		decodeErr = err
	} else {
		decodeErr = dp.ChecksumError()
		anomalies = snooper.ValidatePacket(dp)
	}
	p.stats.Update(dp, decodeErr, anomalies)

	if p.file != nil {
		if p.opts.Stamp {
			snooper.StampRecord(raw, p.opts.Now())
		}
		if _, err := p.file.w.Write(raw); err != nil {
			cause := fmt.Errorf("write capture file: %w", err)
			p.log.WithError(cause).Error("capture file write failed")
			p.halt(cause)
			return
		}
		p.file.session.Records++
		if decodeErr != nil {
			p.file.session.Invalid++
		}
	}

	kind := EventPacket
	if decodeErr != nil {
		kind = EventInvalidPacket
	}
	p.emit(Event{Kind: kind, Packet: dp, Anomalies: anomalies, Err: decodeErr})
}

// nextFileName returns a path under dir named after t that does not exist yet
func nextFileName(dir string, t time.Time) string {
	base := t.Format(FileTimeLayout)
	path := filepath.Join(dir, base+".bin")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); err != nil {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.bin", base, i))
	}
}

func (p *Pipeline) openFile() (*catalog.Session, error) {
	if p.file != nil {
		s := p.file.session
		return &s, nil
	}

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	now := p.opts.Now()
	path := nextFileName(p.opts.OutputDir, now)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}

	p.file = &captureFile{
		f: f,
		w: bufio.NewWriterSize(f, 64*snooper.PacketSize),
		session: catalog.Session{
			ID:        uuid.NewString(),
			Path:      path,
			Shell:     p.roles.Shell.Name(),
			Snooper:   p.roles.Snooper.Name(),
			StartedAt: now,
		},
		droppedAtStart: p.buf.Dropped(),
	}

	s := p.file.session
	p.log.WithFields(logrus.Fields{"session": s.ID, "file": path}).Info("capture file opened")
	if p.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		if err := p.opts.Recorder.StartSession(ctx, s); err != nil {
			p.log.WithError(err).Warn("recording session start failed")
		}
		cancel()
	}
	p.emit(Event{Kind: EventSessionStarted, Session: &s})
	return &s, nil
}

func (p *Pipeline) closeFile() (*catalog.Session, error) {
	if p.file == nil {
		return nil, nil
	}
	cf := p.file
	p.file = nil

	err := errors.Join(cf.w.Flush(), cf.f.Close())

	s := cf.session
	s.EndedAt = p.opts.Now()
	s.Dropped = p.buf.Dropped() - cf.droppedAtStart

	p.log.WithFields(logrus.Fields{
		"session": s.ID,
		"file":    s.Path,
		"records": s.Records,
		"invalid": s.Invalid,
		"dropped": s.Dropped,
	}).Info("capture file closed")

	if p.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		if rerr := p.opts.Recorder.EndSession(ctx, s); rerr != nil {
			p.log.WithError(rerr).Warn("recording session end failed")
		}
		cancel()
	}
	p.emit(Event{Kind: EventSessionStopped, Session: &s})

	if err != nil {
		return &s, fmt.Errorf("close capture file: %w", err)
	}
	return &s, nil
}
