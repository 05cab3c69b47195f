package wv

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	widevine "github.com/iyear/gowidevine"
)

var WidevineSystemID = []byte{0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed}

// ParsePSSH checks that b is a structurally valid Widevine PSSH box and
// returns it decoded. The check is purely local; no network is touched.
func ParsePSSH(b []byte) (*widevine.PSSH, error) {
	box, err := mp4.DecodeBox(0, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode box: %w", err)
	}

	psshBox, ok := box.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("box is a %s instead of a PSSH", box.Type())
	}

	if !bytes.Equal(psshBox.SystemID, WidevineSystemID) {
		return nil, fmt.Errorf("system id is %s instead of widevine", hex.EncodeToString(psshBox.SystemID))
	}

	pssh, err := widevine.NewPSSH(b)
	if err != nil {
		return nil, fmt.Errorf("parse pssh data: %w", err)
	}

	return pssh, nil
}
