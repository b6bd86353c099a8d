package mcp

import (
	"github.com/ajitpratap0/mcp-engine/pkg/client"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/server"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

// Version represents the current version of the engine
const Version = "0.1.0"

// LatestProtocolVersion is the protocol revision offered by default.
const LatestProtocolVersion = protocol.LatestVersion

// These exports provide direct access to the core components
var (
	// NewClient creates a client on a transport
	NewClient = client.New

	// NewServer creates a server
	NewServer = server.New

	// NewStdioTransport frames newline-delimited JSON over a reader and writer
	NewStdioTransport = transport.NewStdioTransport

	// NewStreamableClient creates the client side of the streamable HTTP transport
	NewStreamableClient = transport.NewStreamableClient
)

// Protocol constants for capabilities
const (
	CapabilityTools       = protocol.CapabilityTools
	CapabilityResources   = protocol.CapabilityResources
	CapabilityPrompts     = protocol.CapabilityPrompts
	CapabilityLogging     = protocol.CapabilityLogging
	CapabilityCompletions = protocol.CapabilityCompletions
	CapabilityRoots       = protocol.CapabilityRoots
	CapabilitySampling    = protocol.CapabilitySampling
	CapabilityElicitation = protocol.CapabilityElicitation
)

// Server options
var (
	WithTools        = server.WithTools
	WithResources    = server.WithResources
	WithPrompts      = server.WithPrompts
	WithLogging      = server.WithLogging
	WithCompletions  = server.WithCompletions
	WithInstructions = server.WithInstructions
)

// Client options
var (
	WithSampling    = client.WithSampling
	WithRoots       = client.WithRoots
	WithElicitation = client.WithElicitation
)
