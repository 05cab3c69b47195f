// Package keys drives one key-acquisition request end to end: identity, CDM
// session, metadata resolution, license exchange, key shaping.
package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/devatadev/gowvkeys/meta"
	"github.com/devatadev/gowvkeys/wv"
)

var ErrEmptyContentID = errors.New("id parameter is required")

// Request carries the client-supplied parameters for one acquisition.
type Request struct {
	ContentID string
	Begin     string
	End       string
}

// Key is one externally visible content key. KID and Key are lowercase hex
// without separators.
type Key struct {
	Type string `json:"type"`
	KID  string `json:"kid"`
	Key  string `json:"key"`
}

type IdentityLoader interface {
	Load() (*wv.Identity, error)
}

type MetadataResolver interface {
	Resolve(ctx context.Context, id, begin, end string) (*meta.Record, error)
}

type LicenseExchanger interface {
	Exchange(ctx context.Context, licenseURL string, challenge []byte) ([]byte, error)
}

// Orchestrator sequences one CDM session per request. Every session it opens
// is closed exactly once, on every path.
type Orchestrator struct {
	identity IdentityLoader
	cdm      wv.Capability
	meta     MetadataResolver
	license  LicenseExchanger
	log      *zap.Logger
}

func NewOrchestrator(identity IdentityLoader, cdm wv.Capability, meta MetadataResolver, license LicenseExchanger, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		identity: identity,
		cdm:      cdm,
		meta:     meta,
		license:  license,
		log:      log,
	}
}

// Fetch runs the acquisition flow for one request and returns the filtered
// key set. SIGNING keys never appear in the result. On any failure after the
// session opened, the session is still closed before the error is returned.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) ([]Key, error) {
	if req.ContentID == "" {
		return nil, ErrEmptyContentID
	}

	identity, err := o.identity.Load()
	if err != nil {
		return nil, err
	}

	sid, err := o.cdm.Open(identity)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	o.log.Info("cdm session opened",
		zap.String("id", req.ContentID),
		zap.String("session_id", hex.EncodeToString(sid)))

	// Close failures are an operability signal, never the request's error.
	defer func() {
		if cerr := o.cdm.Close(sid); cerr != nil {
			o.log.Error("failed to close cdm session",
				zap.String("session_id", hex.EncodeToString(sid)),
				zap.Error(cerr))
			return
		}
		o.log.Info("cdm session closed", zap.String("session_id", hex.EncodeToString(sid)))
	}()

	record, err := o.meta.Resolve(ctx, req.ContentID, req.Begin, req.End)
	if err != nil {
		return nil, err
	}

	challenge, err := o.cdm.GenerateChallenge(sid, record.PSSH)
	if err != nil {
		return nil, err
	}
	o.log.Info("license challenge generated", zap.String("id", req.ContentID))

	licenseBody, err := o.license.Exchange(ctx, record.LicenseURL, challenge)
	if err != nil {
		return nil, err
	}

	if err := o.cdm.ParseLicense(sid, licenseBody); err != nil {
		return nil, err
	}
	o.log.Info("license parsed", zap.String("id", req.ContentID))

	raw, err := o.cdm.Keys(sid)
	if err != nil {
		return nil, err
	}

	result := make([]Key, 0, len(raw))
	for _, key := range raw {
		if key.Type == wv.SIGNING {
			continue
		}
		result = append(result, Key{
			Type: key.Type.String(),
			KID:  key.KeyIdHex(),
			Key:  key.KeyHex(),
		})
	}

	o.log.Info("keys retrieved",
		zap.String("id", req.ContentID),
		zap.Int("count", len(result)))

	return result, nil
}
