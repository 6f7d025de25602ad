// Package vnode resolves the operational status of the parties flows run as.
package vnode

import (
	"context"
	"sync"

	"github.com/corda/corda-runtime-os-sub030/core"
)

type OperationalStatus string

const (
	OperationalStatus_Active   OperationalStatus = "ACTIVE"
	OperationalStatus_Inactive OperationalStatus = "INACTIVE"
)

type Info struct {
	Identity              core.HoldingIdentity
	FlowOperationalStatus OperationalStatus
}

// Registry looks up the info of a party. A missing entry means the info has not been
// replicated to this engine yet.
type Registry interface {
	Get(ctx context.Context, identity core.HoldingIdentity) (*Info, bool)
}

type MemoryRegistry struct {
	mu    sync.RWMutex
	infos map[core.HoldingIdentity]*Info
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		infos: make(map[core.HoldingIdentity]*Info),
	}
}

func (r *MemoryRegistry) Get(_ context.Context, identity core.HoldingIdentity) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.infos[identity]
	if !ok {
		return nil, false
	}

	i := *info
	return &i, true
}

func (r *MemoryRegistry) Put(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.infos[info.Identity] = &info
}

func (r *MemoryRegistry) Remove(identity core.HoldingIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.infos, identity)
}
