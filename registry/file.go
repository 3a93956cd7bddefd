// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/ai-run/helper/fileperms"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/moby/sys/atomicwriter"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// DefaultPath is the session file read by the dashboard.
const DefaultPath = "/var/lib/ai-sandbox/sessions.json"

// document is the on-disk layout of the session file.
type document struct {
	Sessions []Session `json:"sessions"`
}

// File is a Registry backed by a JSON document. Every change rewrites the
// document atomically while holding an exclusive lock on a sibling lock
// file, so concurrent sessions and readers never see a torn write.
type File struct {
	logger hclog.Logger
	path   string

	// alive reports whether a pid still exists
	alive func(pid int) (bool, error)
}

var _ Registry = (*File)(nil)

// NewFile returns a File registry at path.
func NewFile(logger hclog.Logger, path string) *File {
	return &File{
		logger: logger.Named("registry"),
		path:   path,
		alive: func(pid int) (bool, error) {
			return process.PidExists(int32(pid))
		},
	}
}

// Path is the location of the session file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Register(s Session) (Session, error) {
	if s.ID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return s, fmt.Errorf("failed to generate session id: %w", err)
		}
		s.ID = id
	}
	if s.Status == "" {
		s.Status = StatusRunning
	}

	err := f.update(func(sessions []Session) []Session {
		sessions = slices.DeleteFunc(sessions, func(o Session) bool { return o.PID == s.PID })
		return append(sessions, s)
	})
	if err != nil {
		return s, err
	}
	f.logger.Debug("registered session", "id", s.ID, "pid", s.PID)
	return s, nil
}

func (f *File) Unregister(pid int) error {
	return f.update(func(sessions []Session) []Session {
		return slices.DeleteFunc(sessions, func(o Session) bool { return o.PID == pid })
	})
}

func (f *File) List() ([]Session, error) {
	lock, err := f.lock(unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer f.unlock(lock)

	return f.read()
}

func (f *File) Prune() ([]Session, error) {
	var pruned []Session
	err := f.update(func(sessions []Session) []Session {
		return slices.DeleteFunc(sessions, func(s Session) bool {
			ok, err := f.alive(s.PID)
			if err != nil {
				f.logger.Warn("could not check session process, keeping it", "pid", s.PID, "error", err)
				return false
			}
			if !ok {
				pruned = append(pruned, s)
			}
			return !ok
		})
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

// update applies fn to the stored sessions under the exclusive lock.
func (f *File) update(fn func([]Session) []Session) error {
	lock, err := f.lock(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer f.unlock(lock)

	sessions, err := f.read()
	if err != nil {
		return err
	}

	doc := document{Sessions: fn(sessions)}
	if doc.Sessions == nil {
		doc.Sessions = []Session{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, append(data, '\n'), fileperms.Oct644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// read decodes the session file. A missing or empty file holds no
// sessions.
func (f *File) read() ([]Session, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", f.path, err)
	}
	return doc.Sessions, nil
}

func (f *File) lock(how int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), fileperms.Oct755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	lock, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, fileperms.Oct600)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry lock: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), how); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	return lock, nil
}

func (f *File) unlock(lock *os.File) {
	_ = unix.Flock(int(lock.Fd()), unix.LOCK_UN)
	_ = lock.Close()
}
