package cosimio

import (
	"errors"

	"github.com/raskyld/cosimio/pkg/transport"
)

var (
	ErrInvalidCfg = errors.New("cosimio: invalid options")

	ErrInvalidSettings  = errors.New("cosimio: invalid settings")
	ErrNameAlreadyInUse = errors.New("cosimio: connection name already in use")
	ErrNotConnected     = errors.New("cosimio: not connected")
	ErrAlreadyConnected = errors.New("cosimio: already connected")
	ErrConnectionClosed = errors.New("cosimio: connection was disconnected and cannot be reused")
	ErrVersionMismatch  = errors.New("cosimio: incompatible partner version")
	ErrPrimaryMismatch  = errors.New("cosimio: partners disagree on whether the primary was specified")
	ErrNoCallback       = errors.New("cosimio: no callback registered")
	ErrUnknownHook      = errors.New("cosimio: unknown hook")
	ErrUnknownSignal    = errors.New("cosimio: unknown control signal")
	ErrReservedName     = errors.New("cosimio: identifier is reserved")
	ErrInvalidPayload   = errors.New("cosimio: invalid payload")

	// Raised by the transport, re-exported for convenience.
	ErrConnectionTimeout  = transport.ErrConnectionTimeout
	ErrIdentifierMismatch = transport.ErrIdentifierMismatch
)

// ConnectionStatus is reported under "connection_status" in every result of
// Connect and Disconnect.
type ConnectionStatus int

const (
	NotConnected ConnectionStatus = iota
	Connected
	Disconnected
	ConnectionError
	DisconnectionError
)

func (s ConnectionStatus) String() string {
	switch s {
	case NotConnected:
		return "not connected"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case ConnectionError:
		return "connection error"
	case DisconnectionError:
		return "disconnection error"
	default:
		return "unknown"
	}
}
