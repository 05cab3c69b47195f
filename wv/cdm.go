package wv

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	widevine "github.com/iyear/gowidevine"
	wvpb "github.com/iyear/gowidevine/widevinepb"
)

var (
	ErrTooManySessions = errors.New("too many CDM sessions")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionState    = errors.New("operation invalid for session state")
	ErrInvalidPSSH     = errors.New("invalid pssh")
	ErrInvalidLicense  = errors.New("invalid license")
	ErrKeysConsumed    = errors.New("keys already consumed")
	ErrInternal        = errors.New("cdm internal error")
)

// SessionID is the opaque handle returned by Open.
type SessionID []byte

// Capability is the CDM boundary the orchestrator drives. A session moves
// through GenerateChallenge and ParseLicense in order; Keys may be consumed
// once after a parsed license. Close is required after every successful Open
// and is not idempotent.
type Capability interface {
	Open(identity *Identity) (SessionID, error)
	GenerateChallenge(id SessionID, pssh []byte) ([]byte, error)
	ParseLicense(id SessionID, license []byte) error
	Keys(id SessionID) ([]*Key, error)
	Close(id SessionID) error
}

const maxSessions = 16

// CDM implements Capability on top of the Widevine CDM protocol.
type CDM struct {
	mu       sync.Mutex
	rand     *rand.Rand
	sessions map[string]*session
}

type CDMOption func(*CDM)

// WithRandom sets the random source of the CDM.
func WithRandom(source rand.Source) CDMOption {
	return func(c *CDM) {
		c.rand = rand.New(source)
	}
}

// NewCDM creates a new CDM.
func NewCDM(opts ...CDMOption) *CDM {
	c := &CDM{
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions: make(map[string]*session),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Open binds a new session to the given identity.
func (c *CDM) Open(identity *Identity) (SessionID, error) {
	if identity == nil {
		return nil, errors.New("identity is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sessions) >= maxSessions {
		return nil, ErrTooManySessions
	}

	s := &session{
		id:     c.randomBytes(16),
		state:  StateOpened,
		device: identity.device,
	}
	c.sessions[string(s.id)] = s

	return SessionID(s.id), nil
}

// GenerateChallenge builds a license challenge for the session from the given
// PSSH bytes. The PSSH is validated structurally before any CDM work; invalid
// bytes fail fast with ErrInvalidPSSH.
func (c *CDM) GenerateChallenge(id SessionID, pssh []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[string(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.state != StateOpened {
		return nil, fmt.Errorf("%w: challenge requires an opened session, session is %s", ErrSessionState, s.state)
	}

	parsed, err := ParsePSSH(pssh)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPSSH, err)
	}

	// One underlying CDM instance per session, so concurrent sessions never
	// share mutable protocol state.
	cdm := widevine.NewCDM(s.device)
	challenge, parseLicense, err := cdm.GetLicenseChallenge(parsed, wvpb.LicenseType_STREAMING, false)
	if err != nil {
		return nil, fmt.Errorf("%w: get license challenge: %s", ErrInternal, err)
	}

	s.parse = parseLicense
	s.state = StateChallengeIssued

	return challenge, nil
}

// ParseLicense feeds the license server response into the session and
// extracts its keys.
func (c *CDM) ParseLicense(id SessionID, license []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[string(id)]
	if !ok {
		return ErrSessionNotFound
	}
	if s.state != StateChallengeIssued {
		return fmt.Errorf("%w: parse requires an issued challenge, session is %s", ErrSessionState, s.state)
	}

	parsed, err := s.parse(license)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLicense, err)
	}

	keys := make([]*Key, 0, len(parsed))
	for _, key := range parsed {
		keys = append(keys, &Key{
			Type: KeyType(key.Type),
			ID:   key.ID,
			Key:  key.Key,
		})
	}

	s.keys = keys
	s.parse = nil
	s.state = StateLicenseParsed

	return nil
}

// Keys returns the session's key set. The set may be consumed once.
func (c *CDM) Keys(id SessionID) ([]*Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[string(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.state != StateLicenseParsed {
		return nil, fmt.Errorf("%w: keys require a parsed license, session is %s", ErrSessionState, s.state)
	}
	if s.consumed {
		return nil, ErrKeysConsumed
	}

	s.consumed = true
	keys := s.keys
	s.keys = nil

	return keys, nil
}

// Close tears the session down. It is valid from any state but not
// idempotent: closing an unknown or already closed session fails.
func (c *CDM) Close(id SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[string(id)]; !ok {
		return ErrSessionNotFound
	}
	delete(c.sessions, string(id))

	return nil
}

func (c *CDM) randomBytes(length int) []byte {
	r := make([]byte, length)
	c.rand.Read(r)
	return r
}
