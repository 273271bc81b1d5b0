package ir

// Version constants for the record schema and the engine.
const (
	// SchemaVersion is the applied-log record schema version.
	SchemaVersion = "1"

	// EngineVersion is the txq engine version.
	EngineVersion = "0.1.0"
)
