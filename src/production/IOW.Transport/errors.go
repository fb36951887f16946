package transport

import "errors"

var (
	// ErrTransport covers broker level failures that lead to a reconnect
	ErrTransport = errors.New("transport failure")
	// ErrCredentialsRejected is terminal: the broker refused our identity
	ErrCredentialsRejected = errors.New("broker rejected credentials")
	// ErrDecodeBudgetExceeded is terminal: too many consecutive undecodable messages
	ErrDecodeBudgetExceeded = errors.New("consecutive decode failures exceeded budget")
)
