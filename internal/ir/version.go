package ir

// Version constants for the wire format and engine.
const (
	// WireVersion is the completion record format version.
	WireVersion = "1"

	// EngineVersion is the asyncstore engine version.
	EngineVersion = "0.1.0"
)
