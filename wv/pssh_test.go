package wv

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

// psshBox builds a version-0 pssh box for the given system id and data.
func psshBox(systemID, data []byte) []byte {
	var b bytes.Buffer
	size := uint32(8 + 4 + 16 + 4 + len(data))
	binary.Write(&b, binary.BigEndian, size)
	b.WriteString("pssh")
	b.Write([]byte{0, 0, 0, 0}) // version + flags
	b.Write(systemID)
	binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func widevinePSSH() []byte {
	return psshBox(WidevineSystemID, nil)
}

func TestParsePSSH(t *testing.T) {
	pssh, err := ParsePSSH(widevinePSSH())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pssh == nil {
		t.Fatal("expected a parsed pssh")
	}
}

func TestParsePSSHRejectsGarbage(t *testing.T) {
	if _, err := ParsePSSH([]byte("not a pssh box")); err == nil {
		t.Fatal("expected an error for garbage bytes")
	}
}

func TestParsePSSHRejectsForeignSystemID(t *testing.T) {
	playready := []byte{0x9a, 0x04, 0xf0, 0x79, 0x98, 0x40, 0x42, 0x86, 0xab, 0x92, 0xe6, 0x5b, 0xe0, 0x88, 0x5f, 0x95}
	_, err := ParsePSSH(psshBox(playready, nil))
	if err == nil {
		t.Fatal("expected an error for a non-widevine system id")
	}
	if !strings.Contains(err.Error(), "instead of widevine") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParsePSSHRejectsWrongBoxType(t *testing.T) {
	// a valid box that is not a pssh box
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(8))
	b.WriteString("free")
	if _, err := ParsePSSH(b.Bytes()); err == nil {
		t.Fatal("expected an error for a non-pssh box")
	}
}
