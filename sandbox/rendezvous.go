// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/ai-run/policy"
	"github.com/hashicorp/go-msgpack/v2/codec"
	multierror "github.com/hashicorp/go-multierror"
)

// MessageKind identifies a control message between the controller and the
// confined process.
type MessageKind uint8

const (
	KindBootstrap MessageKind = iota + 1
	KindNamespacesReady
	KindNetworkReady
	KindAbort
	KindFailed
)

func (k MessageKind) String() string {
	switch k {
	case KindBootstrap:
		return "bootstrap"
	case KindNamespacesReady:
		return "namespaces-ready"
	case KindNetworkReady:
		return "network-ready"
	case KindAbort:
		return "abort"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("kind-%d", uint8(k))
}

// Bootstrap is everything the confined process needs to set itself up.
type Bootstrap struct {
	Policy   policy.Definition `codec:"policy"`
	Config   Config            `codec:"config"`
	User     string            `codec:"user"`
	Home     string            `codec:"home"`
	Command  []string          `codec:"command"`
	LogLevel string            `codec:"log_level"`
}

// Message is one control message.
type Message struct {
	Kind      MessageKind `codec:"kind"`
	Bootstrap *Bootstrap  `codec:"bootstrap,omitempty"`

	// Error describes the failure of a KindFailed message.
	Error string `codec:"error,omitempty"`
}

var (
	// ErrAborted is returned when the peer aborted setup or went away.
	ErrAborted = errors.New("sandbox setup aborted")

	// ErrTimeout is returned when the peer did not answer in time.
	ErrTimeout = errors.New("timed out waiting for sandbox peer")
)

// PeerError is a failure reported by the other side of the rendezvous.
type PeerError struct {
	Message string
}

func (e *PeerError) Error() string {
	return "confined process failed: " + e.Message
}

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	return h
}()

// readRecorder remembers the last error of the underlying file so that
// deadline expiry and EOF can be told apart from bad input after the
// decoder has wrapped them.
type readRecorder struct {
	r   io.Reader
	err error
}

func (rr *readRecorder) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil {
		rr.err = err
	}
	return n, err
}

// Rendezvous is the synchronization channel of exactly one session. It is
// keyed to the pid of the peer: the controller holds one for its child and
// the confined process one for its parent.
type Rendezvous struct {
	peer int

	in  *os.File
	out *os.File

	rec *readRecorder
	dec *codec.Decoder

	wl  sync.Mutex
	enc *codec.Encoder

	closeOnce sync.Once
}

// NewRendezvous returns a Rendezvous reading from in and writing to out.
// in must support read deadlines, which pipes from os.Pipe do.
func NewRendezvous(peer int, in, out *os.File) *Rendezvous {
	rec := &readRecorder{r: in}
	return &Rendezvous{
		peer: peer,
		in:   in,
		out:  out,
		rec:  rec,
		dec:  codec.NewDecoder(rec, msgpackHandle),
		enc:  codec.NewEncoder(out, msgpackHandle),
	}
}

// Peer is the pid of the other side.
func (r *Rendezvous) Peer() int {
	return r.peer
}

// Send writes m to the peer.
func (r *Rendezvous) Send(m Message) error {
	r.wl.Lock()
	defer r.wl.Unlock()
	if err := r.enc.Encode(&m); err != nil {
		return fmt.Errorf("failed to send %s to %d: %w", m.Kind, r.peer, err)
	}
	return nil
}

// SendFailure reports a fatal setup error to the peer.
func (r *Rendezvous) SendFailure(err error) error {
	return r.Send(Message{Kind: KindFailed, Error: err.Error()})
}

// Receive reads the next message, waiting at most timeout. A zero timeout
// waits until the peer writes or closes its end.
func (r *Rendezvous) Receive(timeout time.Duration) (*Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := r.in.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	r.rec.err = nil
	var m Message
	if err := r.dec.Decode(&m); err != nil {
		switch {
		case errors.Is(r.rec.err, os.ErrDeadlineExceeded):
			return nil, fmt.Errorf("%w after %s (peer %d)", ErrTimeout, timeout, r.peer)
		case errors.Is(r.rec.err, io.EOF), errors.Is(r.rec.err, os.ErrClosed):
			return nil, fmt.Errorf("%w: peer %d closed the control channel", ErrAborted, r.peer)
		}
		return nil, fmt.Errorf("failed to read from %d: %w", r.peer, err)
	}
	return &m, nil
}

// Await waits for a message of the given kind. An abort from the peer is
// ErrAborted, a reported failure is a *PeerError and any other kind is an
// error.
func (r *Rendezvous) Await(kind MessageKind, timeout time.Duration) (*Message, error) {
	m, err := r.Receive(timeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", kind, err)
	}

	switch m.Kind {
	case kind:
		return m, nil
	case KindAbort:
		return nil, fmt.Errorf("waiting for %s: %w by peer %d", kind, ErrAborted, r.peer)
	case KindFailed:
		return nil, &PeerError{Message: m.Error}
	}
	return nil, fmt.Errorf("waiting for %s: unexpected %s from %d", kind, m.Kind, r.peer)
}

// Close closes both ends. It is safe to call more than once.
func (r *Rendezvous) Close() error {
	var err error
	r.closeOnce.Do(func() {
		var mErr *multierror.Error
		if cerr := r.in.Close(); cerr != nil {
			mErr = multierror.Append(mErr, cerr)
		}
		if cerr := r.out.Close(); cerr != nil {
			mErr = multierror.Append(mErr, cerr)
		}
		err = mErr.ErrorOrNil()
	})
	return err
}
