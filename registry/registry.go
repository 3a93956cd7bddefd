// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package registry records the sandbox sessions running on a host so that
// other tools can list them. The sandbox treats it as an opaque store:
// failures are reported to the caller but never stop a session.
package registry

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Session is one registered sandbox.
type Session struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	User    string    `json:"user"`
	Policy  string    `json:"policy"`
	Cwd     string    `json:"cwd"`
	Started time.Time `json:"started"`
	Status  Status    `json:"status"`
}

// Registry stores sessions keyed by the pid of their confined process.
type Registry interface {
	// Register adds s, replacing any session with the same pid. An empty ID
	// is generated.
	Register(s Session) (Session, error)

	// Unregister removes the session of pid. A missing session is not an
	// error.
	Unregister(pid int) error

	// List returns every registered session.
	List() ([]Session, error)

	// Prune removes sessions whose process no longer exists and returns
	// them.
	Prune() ([]Session, error)
}

// Noop is a Registry that stores nothing.
type Noop struct{}

// Register returns s unchanged.
func (Noop) Register(s Session) (Session, error) {
	return s, nil
}

func (Noop) Unregister(int) error {
	return nil
}

func (Noop) List() ([]Session, error) {
	return nil, nil
}

func (Noop) Prune() ([]Session, error) {
	return nil, nil
}
