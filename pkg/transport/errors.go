package transport

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

var (
	ErrConnectionTimeout  = errors.New("transport: timed out waiting for the peer")
	ErrIdentifierMismatch = errors.New("transport: only frames for other identifiers arrived")
	ErrProtocolViolation  = errors.New("transport: protocol violation")
	ErrRoleConflict       = errors.New("transport: both peers claim the same role")
	ErrClosed             = errors.New("transport: closed")
	ErrInvalidCfg         = errors.New("transport: invalid configuration")
	ErrNoTLSConfig        = errors.New("transport: TLSConfig is required")
	ErrNoHub              = errors.New("transport: memory transport requires a Hub")
	ErrUnknownFormat      = errors.New("transport: unknown communication format")
)

var (
	QErrProtocolViolation = quic.StreamErrorCode(0xFF)
)

var (
	QErrInternal = QuicApplicationError{
		Code:   0x1,
		Prefix: "internal",
	}
	QErrShutdown = QuicApplicationError{
		Code:   0x3,
		Prefix: "shutdown",
	}
)

type QuicApplicationError struct {
	Code   uint64
	Prefix string
}

func (qerr *QuicApplicationError) Close(conn quic.Connection, msg string) error {
	if conn != nil {
		return conn.CloseWithError(
			quic.ApplicationErrorCode(qerr.Code),
			fmt.Sprintf("%s: %s", qerr.Prefix, msg),
		)
	}
	return nil
}
