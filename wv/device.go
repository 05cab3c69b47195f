package wv

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	widevine "github.com/iyear/gowidevine"
)

var (
	ErrProvisionNotFound  = errors.New("provisioning file not found")
	ErrProvisionMalformed = errors.New("provisioning file malformed")
)

// Identity is the provisioning identity sessions are bound to. It is
// immutable once loaded and safe to share across concurrent sessions.
type Identity struct {
	device *widevine.Device
}

// IdentityProvider loads the provisioning identity from a WVD file. A
// successful load is cached for the process lifetime; failures are not, so a
// provisioning file that appears later is picked up without a restart.
type IdentityProvider struct {
	path string

	mu     sync.Mutex
	cached *Identity
}

func NewIdentityProvider(path string) *IdentityProvider {
	return &IdentityProvider{path: path}
}

func (p *IdentityProvider) Load() (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	wvd, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProvisionNotFound, p.path)
		}
		return nil, fmt.Errorf("%w: %s", ErrProvisionNotFound, err)
	}

	device, err := widevine.NewDevice(widevine.FromWVD(bytes.NewReader(wvd)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvisionMalformed, err)
	}

	p.cached = &Identity{device: device}

	return p.cached, nil
}
