package pairing

import (
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/pairmaster/internal/crypto/thumbprint"
	"github.com/toeirei/pairmaster/internal/model"
)

// State is a step of the pairing state machine.
type State int

const (
	StateInit State = iota
	StateAwaitingPeerKey
	StateAwaitingUserConfirmation
	StateConfirmed
	StatePaired
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAwaitingPeerKey:
		return "AwaitingPeerKey"
	case StateAwaitingUserConfirmation:
		return "AwaitingUserConfirmation"
	case StateConfirmed:
		return "Confirmed"
	case StatePaired:
		return "Paired"
	case StateFailed:
		return "Failed"
	case StateAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StatePaired || s == StateAbandoned }

// Thumbprints are the rendered fingerprints of both sides.
type Thumbprints struct {
	Local thumbprint.Pair
	Peer  thumbprint.Pair
}

// Event reports one transition of one session.
type Event struct {
	Session   uuid.UUID
	Candidate model.DeviceCandidate
	State     State
	At        time.Time

	// Set once the peer key has been received.
	Identity          model.DeviceIdentity
	PeerName          string
	PeerFingerprints  model.FingerprintPair
	LocalFingerprints model.FingerprintPair
	Thumbprints       *Thumbprints
	// KeyChanged marks a confirmation request for an identity whose stored
	// key differs from the one just received.
	KeyChanged bool
	// FastPath marks a reconnection that skipped confirmation.
	FastPath bool

	// Record is the persisted outcome on StatePaired, without the secret.
	Record *model.TrustRecord
	Err    error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID                uuid.UUID
	Candidate         model.DeviceCandidate
	State             State
	CreatedAt         time.Time
	Identity          model.DeviceIdentity
	PeerFingerprints  model.FingerprintPair
	LocalFingerprints model.FingerprintPair
	KeyChanged        bool
	Err               error
}
