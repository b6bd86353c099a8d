// Package lifecycle implements the connection state machine that gates which
// messages are legal before, during and after the initialize handshake.
package lifecycle

import (
	"errors"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// State is a lifecycle phase.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateOperational
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateOperational:
		return "operational"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Role is the side of the connection a Machine represents.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ErrDrop is returned by CheckInbound for notifications and responses that
// must be discarded without an answer.
var ErrDrop = errors.New("lifecycle: message dropped")

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// Machine tracks the lifecycle of one connection. All transitions happen under
// a single mutex; observers run after it is released, in registration order.
type Machine struct {
	mu    sync.Mutex
	state State
	role  Role

	local        protocol.Implementation
	localCaps    protocol.CapabilitySet
	versions     []string
	instructions string
	codes        mcperrors.Codes

	negotiated string
	peer       protocol.Implementation
	peerCaps   protocol.CapabilitySet

	observers []TransitionFunc
}

// Option configures a Machine.
type Option func(*Machine)

// WithVersions sets the supported protocol versions. They are kept newest
// first; the first one is what a client requests and what a server falls
// back to.
func WithVersions(versions ...string) Option {
	return func(m *Machine) {
		if len(versions) > 0 {
			m.versions = protocol.SortNewestFirst(versions)
		}
	}
}

// WithInstructions sets the instructions a server returns from initialize.
func WithInstructions(text string) Option {
	return func(m *Machine) {
		m.instructions = text
	}
}

// WithCodes sets the engine error codes.
func WithCodes(codes mcperrors.Codes) Option {
	return func(m *Machine) {
		m.codes = codes
	}
}

// New creates a Machine in StateUninitialized.
func New(role Role, local protocol.Implementation, caps protocol.CapabilitySet, opts ...Option) *Machine {
	m := &Machine{
		role:      role,
		local:     local,
		localCaps: caps,
		versions:  protocol.SupportedVersions(),
		codes:     mcperrors.DefaultCodes(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Role returns the side this machine represents.
func (m *Machine) Role() Role {
	return m.role
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTransition registers an observer.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// transition must be called with mu held. It returns the observers to notify.
func (m *Machine) transition(to State) (State, []TransitionFunc) {
	from := m.state
	m.state = to
	return from, append([]TransitionFunc(nil), m.observers...)
}

func notify(observers []TransitionFunc, from, to State) {
	for _, fn := range observers {
		fn(from, to)
	}
}

// CheckInbound decides whether msg may be processed in the current state. It
// returns nil when it may, an error to answer a request with, or ErrDrop.
func (m *Machine) CheckInbound(msg *protocol.Message) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == StateShutdown {
		return ErrDrop
	}

	switch msg.Kind() {
	case protocol.KindRequest:
		if msg.Method == protocol.MethodPing || state == StateOperational {
			return nil
		}
		if m.role == RoleServer && msg.Method == protocol.MethodInitialize {
			return nil
		}
		return mcperrors.NotInitialized(m.codes.NotInitialized)

	case protocol.KindNotification:
		if state == StateUninitialized {
			return ErrDrop
		}
		if msg.Method == protocol.MethodInitialized && (m.role != RoleServer || state != StateInitializing) {
			return ErrDrop
		}
		return nil

	case protocol.KindResponse, protocol.KindErrorResponse:
		return nil

	default:
		return ErrDrop
	}
}

// CheckOutbound decides whether a locally issued request may be sent.
func (m *Machine) CheckOutbound(method string) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch {
	case state == StateShutdown:
		return mcperrors.ConnectionClosed()
	case method == protocol.MethodPing:
		return nil
	case method == protocol.MethodInitialize:
		if m.role == RoleClient && state == StateInitializing {
			return nil
		}
		return mcperrors.InvalidRequest("initialize is only sent once by the client")
	case state == StateOperational:
		return nil
	default:
		return mcperrors.NotInitialized(m.codes.NotInitialized)
	}
}

// CanNotify reports whether a locally issued notification may be sent.
// Cancellation and progress may flow as soon as the handshake started.
func (m *Machine) CanNotify(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateShutdown, StateUninitialized:
		return false
	case StateInitializing:
		switch method {
		case protocol.MethodCancelled, protocol.MethodProgress, protocol.MethodLogMessage:
			return true
		case protocol.MethodInitialized:
			return m.role == RoleClient
		}
		return false
	default:
		return true
	}
}

// AcceptInitialize handles an inbound initialize request on a server. It
// negotiates the version and moves to StateInitializing.
func (m *Machine) AcceptInitialize(params protocol.InitializeParams) (protocol.InitializeResult, error) {
	if m.role != RoleServer {
		return protocol.InitializeResult{}, mcperrors.MethodNotFound(protocol.MethodInitialize)
	}

	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return protocol.InitializeResult{}, mcperrors.InvalidRequest("initialize already received")
	}
	m.negotiated = protocol.Negotiate(params.ProtocolVersion, m.versions)
	m.peer = params.ClientInfo
	m.peerCaps = params.Capabilities
	result := protocol.InitializeResult{
		ProtocolVersion: m.negotiated,
		Capabilities:    m.localCaps,
		ServerInfo:      m.local,
		Instructions:    m.instructions,
	}
	from, observers := m.transition(StateInitializing)
	m.mu.Unlock()

	notify(observers, from, StateInitializing)
	return result, nil
}

// AcceptInitialized handles notifications/initialized on a server. Outside
// StateInitializing it does nothing and returns false.
func (m *Machine) AcceptInitialized() bool {
	m.mu.Lock()
	if m.role != RoleServer || m.state != StateInitializing {
		m.mu.Unlock()
		return false
	}
	from, observers := m.transition(StateOperational)
	m.mu.Unlock()

	notify(observers, from, StateOperational)
	return true
}

// BeginInitialize starts the handshake on a client and returns the params of
// the initialize request.
func (m *Machine) BeginInitialize() (protocol.InitializeParams, error) {
	if m.role != RoleClient {
		return protocol.InitializeParams{}, mcperrors.InvalidRequest("only clients send initialize")
	}

	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return protocol.InitializeParams{}, mcperrors.InvalidRequest("cannot initialize in state " + state.String())
	}
	params := protocol.InitializeParams{
		ProtocolVersion: m.versions[0],
		Capabilities:    m.localCaps,
		ClientInfo:      m.local,
	}
	from, observers := m.transition(StateInitializing)
	m.mu.Unlock()

	notify(observers, from, StateInitializing)
	return params, nil
}

// CompleteInitialize records the server's answer on a client and moves to
// StateOperational. A version outside the local set fails with
// UnsupportedVersion and leaves the state unchanged; closing is up to the
// caller.
func (m *Machine) CompleteInitialize(result protocol.InitializeResult) error {
	m.mu.Lock()
	if m.state != StateInitializing {
		state := m.state
		m.mu.Unlock()
		return mcperrors.InvalidRequest("unexpected initialize result in state " + state.String())
	}
	if !protocol.IsSupported(result.ProtocolVersion, m.versions) {
		versions := append([]string(nil), m.versions...)
		m.mu.Unlock()
		return mcperrors.UnsupportedVersion(result.ProtocolVersion, versions)
	}
	m.negotiated = result.ProtocolVersion
	m.peer = result.ServerInfo
	m.peerCaps = result.Capabilities
	from, observers := m.transition(StateOperational)
	m.mu.Unlock()

	notify(observers, from, StateOperational)
	return nil
}

// Shutdown moves to the terminal state. Only the first call returns true.
func (m *Machine) Shutdown() bool {
	m.mu.Lock()
	if m.state == StateShutdown {
		m.mu.Unlock()
		return false
	}
	from, observers := m.transition(StateShutdown)
	m.mu.Unlock()

	notify(observers, from, StateShutdown)
	return true
}

// Negotiated returns the agreed protocol version, empty before the handshake.
func (m *Machine) Negotiated() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.negotiated
}

// PeerCapabilities returns what the other side declared.
func (m *Machine) PeerCapabilities() protocol.CapabilitySet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerCaps
}

// LocalCapabilities returns what this side declared.
func (m *Machine) LocalCapabilities() protocol.CapabilitySet {
	return m.localCaps
}

// PeerInfo returns the other side's implementation info.
func (m *Machine) PeerInfo() protocol.Implementation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// SupportedVersions returns the local version set, newest first.
func (m *Machine) SupportedVersions() []string {
	return append([]string(nil), m.versions...)
}
