package wv

import (
	"encoding/hex"
	"strconv"
)

type KeyType int64

const (
	SIGNING          KeyType = 1 // Exactly one key of this type must appear.
	CONTENT          KeyType = 2 // Content key.
	KEY_CONTROL      KeyType = 3 // Key control block for license renewals. No key.
	OPERATOR_SESSION KeyType = 4 // wrapped keys for auxiliary crypto operations.
	ENTITLEMENT      KeyType = 5 // Entitlement keys.
	OEM_CONTENT      KeyType = 6
)

func (t KeyType) String() string {
	switch t {
	case SIGNING:
		return "SIGNING"
	case CONTENT:
		return "CONTENT"
	case KEY_CONTROL:
		return "KEY_CONTROL"
	case OPERATOR_SESSION:
		return "OPERATOR_SESSION"
	case ENTITLEMENT:
		return "ENTITLEMENT"
	case OEM_CONTENT:
		return "OEM_CONTENT"
	}
	return "KEY_TYPE_" + strconv.FormatInt(int64(t), 10)
}

type Key struct {
	// Type is the type of key.
	Type KeyType
	// ID is the ID of the key.
	ID []byte
	// Key is the key.
	Key []byte
}

func (k *Key) KeyIdHex() string {
	return hex.EncodeToString(k.ID)
}

func (k *Key) KeyHex() string {
	return hex.EncodeToString(k.Key)
}
