package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrIndexUnavailable        = errors.New("knowledge index not available")
	ErrModelUnavailable        = errors.New("language model not configured")
	ErrChatPlatformUnavailable = errors.New("chat platform not configured")
	ErrMessageStoreUnavailable = errors.New("message store not available")
	ErrChatNotFound            = errors.New("chat not found")
	ErrIngestionRunning        = errors.New("an ingestion run is already in progress")
)
