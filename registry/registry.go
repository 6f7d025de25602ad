package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/corda/corda-runtime-os-sub030/flow"
)

var ErrFlowNotFound = errors.New("flow not found")

type Registry struct {
	sync.Mutex

	flowMap      map[string]flow.Flow
	responderMap map[string]string
}

// New creates a new registry instance.
func New() *Registry {
	return &Registry{
		flowMap:      make(map[string]flow.Flow),
		responderMap: make(map[string]string),
	}
}

// RegisterFlow registers an initiating flow. An empty name registers the flow under its
// function name.
func (r *Registry) RegisterFlow(name string, f flow.Flow) error {
	if f == nil {
		return &ErrInvalidFlow{"flow must not be nil"}
	}

	if name == "" {
		name = flowName(f)
	}

	r.Lock()
	defer r.Unlock()

	return r.registerFlow(name, f)
}

// RegisterResponder registers a flow that is started by an inbound session for protocol.
func (r *Registry) RegisterResponder(protocol, name string, f flow.Flow) error {
	if protocol == "" {
		return &ErrInvalidFlow{"responder protocol must not be empty"}
	}

	if f == nil {
		return &ErrInvalidFlow{"flow must not be nil"}
	}

	if name == "" {
		name = flowName(f)
	}

	r.Lock()
	defer r.Unlock()

	if existing, ok := r.responderMap[protocol]; ok {
		return &ErrProtocolAlreadyRegistered{fmt.Sprintf("protocol %q already handled by flow %q", protocol, existing)}
	}

	if err := r.registerFlow(name, f); err != nil {
		return err
	}

	r.responderMap[protocol] = name

	return nil
}

func (r *Registry) registerFlow(name string, f flow.Flow) error {
	if _, ok := r.flowMap[name]; ok {
		return &ErrFlowAlreadyRegistered{fmt.Sprintf("flow with name %q already registered", name)}
	}
	r.flowMap[name] = f

	return nil
}

func (r *Registry) GetFlow(name string) (flow.Flow, error) {
	r.Lock()
	defer r.Unlock()

	if f, ok := r.flowMap[name]; ok {
		return f, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
}

// GetResponder returns the name of the responder flow for protocol.
func (r *Registry) GetResponder(protocol string) (string, error) {
	r.Lock()
	defer r.Unlock()

	if name, ok := r.responderMap[protocol]; ok {
		return name, nil
	}

	return "", fmt.Errorf("%w: no responder for protocol %s", ErrFlowNotFound, protocol)
}
