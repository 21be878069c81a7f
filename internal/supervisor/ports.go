// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"sync"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// PortPool hands out local TCP ports from a fixed range. The supervisor is
// the only owner; ports are released on process exit regardless of exit path.
type PortPool struct {
	mu    sync.Mutex
	first int
	last  int
	inUse map[int]string
}

// NewPortPool creates a pool over [first, last].
func NewPortPool(first, last int) *PortPool {
	return &PortPool{
		first: first,
		last:  last,
		inUse: map[int]string{},
	}
}

// Allocate reserves the lowest free port for the given owner.
func (p *PortPool) Allocate(owner string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.first; port <= p.last; port++ {
		if _, taken := p.inUse[port]; !taken {
			p.inUse[port] = owner
			return port, nil
		}
	}

	return 0, model.NewError(model.ErrResourceExhausted, "no free ports in %d-%d", p.first, p.last)
}

// AllocateSpecific reserves the given port if free.
func (p *PortPool) AllocateSpecific(port int, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if holder, taken := p.inUse[port]; taken {
		return model.NewError(model.ErrConflict, "port %d already owned by %s", port, holder)
	}
	p.inUse[port] = owner

	return nil
}

// Release frees the given port. Releasing a free port is a no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

// InUse returns the number of allocated ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
