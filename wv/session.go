package wv

import (
	widevine "github.com/iyear/gowidevine"
)

// State is the lifecycle position of a session. Transitions are strictly
// linear: Opened -> ChallengeIssued -> LicenseParsed. Close is valid from any
// state and removes the session.
type State int

const (
	StateOpened State = iota + 1
	StateChallengeIssued
	StateLicenseParsed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateLicenseParsed:
		return "license_parsed"
	}
	return "unknown"
}

type session struct {
	id       []byte
	state    State
	device   *widevine.Device
	parse    func(license []byte) ([]*widevine.Key, error)
	keys     []*Key
	consumed bool
}
