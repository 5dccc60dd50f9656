// Package session implements the iSCSI Session (C6): the group of
// connections sharing a TSIH, initiator identity, and command-sequence
// window. Since this core enforces MaxConnections=1, a session owns at
// most one connection at a time, but the locking discipline below is
// written as if it did not, per spec.md's own note that the discipline
// must be present for correctness even though contention is nil today.
//
// Grounded on dittofs's per-connection state tracking in
// pkg/adapter/nfs/nfs_connection.go for the mutex-guarded mutable-state
// pattern, adapted to iSCSI's CmdSN/ExpCmdSN/MaxCmdSN window instead of
// NFS's stateless RPC model.
package session

import (
	"fmt"
	"sync"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
)

// DefaultWindowSize is the number of outstanding commands the session
// admits beyond ExpCmdSN, i.e. MaxCmdSN = ExpCmdSN + DefaultWindowSize - 1.
const DefaultWindowSize = 32

// SessionType mirrors negotiate.SessionType but is re-exported here so
// callers that only need the session package don't also need negotiate.
type SessionType = negotiate.SessionType

// ConnectionHandle is the minimal surface Session needs from a
// Connection to track membership, avoiding an import cycle (connection
// imports session, not the reverse).
type ConnectionHandle interface {
	CID() uint16
}

// Session groups the connections (at most one, enforced elsewhere) that
// share a TSIH, and owns the CmdSN sliding window all of them honor.
type Session struct {
	mu sync.Mutex

	TSIH           uint16
	ISID           [6]byte
	InitiatorName  string
	InitiatorAlias string
	TargetName     string // empty for Discovery sessions
	Type           SessionType
	SettingsID     uint64

	expCmdSN uint32
	maxCmdSN uint32
	windowSize uint32

	connections map[uint16]ConnectionHandle
}

// New creates a Session with the given TSIH and identity, ExpCmdSN seeded
// from the first login's CmdSN.
func New(tsih uint16, isid [6]byte, initiatorName string, sessionType SessionType, initialCmdSN uint32) *Session {
	s := &Session{
		TSIH:          tsih,
		ISID:          isid,
		InitiatorName: initiatorName,
		Type:          sessionType,
		windowSize:    DefaultWindowSize,
		connections:   make(map[uint16]ConnectionHandle),
	}
	s.expCmdSN = initialCmdSN
	s.maxCmdSN = initialCmdSN + s.windowSize - 1
	return s
}

// AddConnection registers c as belonging to this session.
func (s *Session) AddConnection(c ConnectionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.CID()] = c
}

// RemoveConnection unregisters the connection with the given CID.
// Returns true if the session has no connections left.
func (s *Session) RemoveConnection(cid uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, cid)
	return len(s.connections) == 0
}

// ConnectionCount returns the number of connections currently bound.
func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Window returns the current (ExpCmdSN, MaxCmdSN) pair.
func (s *Session) Window() (exp, max uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expCmdSN, s.maxCmdSN
}

// Admit decides whether a command with the given CmdSN may execute now,
// per spec.md 4.4/4.5: CmdSN == ExpCmdSN executes immediately; CmdSN
// outside [ExpCmdSN, MaxCmdSN] is silently dropped (not executed, window
// unchanged); CmdSN inside the window but not yet due is not handled by
// this core (no reordering queue — same simplification MaxConnections=1
// makes safe, since a single connection delivers CmdSN in order).
func (s *Session) Admit(cmdSN uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmdSN != s.expCmdSN {
		return false
	}
	return true
}

// Advance moves ExpCmdSN/MaxCmdSN forward by one after a non-immediate
// command completes.
func (s *Session) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expCmdSN++
	s.maxCmdSN = s.expCmdSN + s.windowSize - 1
}

// InWindow reports whether cmdSN falls in [ExpCmdSN, MaxCmdSN], which
// separates "dropped, out of window" from "dropped, in window but not yet
// due" for a command Admit refused. The connection code does not call it.
func (s *Session) InWindow(cmdSN uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cmdSN >= s.expCmdSN && cmdSN <= s.maxCmdSN
}

// Key identifies a session for the (ISID, TargetName, PortalGroupTag)
// uniqueness invariant spec.md's data model requires.
type Key struct {
	ISID                 [6]byte
	TargetName           string
	TargetPortalGroupTag uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%x/%s/%d", k.ISID, k.TargetName, k.TargetPortalGroupTag)
}
