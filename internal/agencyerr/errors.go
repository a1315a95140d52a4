// Package agencyerr defines the sentinel error values shared by every
// agency subsystem, grouped by the error kinds in the design: transport,
// persistence, protocol, and programming errors.
package agencyerr

import "errors"

// Transport errors. A publish error is returned to the caller of the send;
// protocol machines pass it on and do not turn it into an expiration.
var (
	ErrPublishFailed = errors.New("agencyerr: publish failed")
	ErrBindingFailed = errors.New("agencyerr: binding failed")
)

// Persistence errors surface from the Database Connection to the calling
// agent as a failed operation. The Medium never retries automatically.
var (
	ErrNotFound       = errors.New("agencyerr: document not found")
	ErrConflict       = errors.New("agencyerr: revision conflict")
	ErrConnectionLost = errors.New("agencyerr: database connection lost")
	ErrMalformedRev   = errors.New("agencyerr: malformed document revision")
)

// Protocol errors are returned by the Medium operation that detects them
// (RegisterListener, RegisterInterest); they are not recorded in a
// listener's termination result.
var (
	ErrTimeoutExpired     = errors.New("agencyerr: timeout expired")
	ErrInvalidTransition  = errors.New("agencyerr: invalid state transition")
	ErrUnknownFactory     = errors.New("agencyerr: unknown protocol factory")
	ErrDuplicateSession   = errors.New("agencyerr: duplicate session id")
	ErrDuplicateInterest  = errors.New("agencyerr: duplicate interest")
)

// Programming errors: registry collisions, messages delivered to a Task,
// and replay mismatches. Registry collisions and replay mismatches are
// returned to the caller; a Task panics with ErrTaskCannotReceive. No
// agent is aborted automatically.
var (
	ErrUnknownAgentType   = errors.New("agencyerr: unknown agent type")
	ErrRegistryCollision  = errors.New("agencyerr: journal id already registered")
	ErrTaskCannotReceive  = errors.New("agencyerr: task protocol does not accept inbound messages")
	ErrReplayMismatch     = errors.New("agencyerr: replay snapshot does not match original")
)
