package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/vnode"
)

type Factory struct {
	logger        *slog.Logger
	clock         clock.Clock
	eventHandlers map[core.FlowEventType]flowctx.EventHandler
	vnodes        vnode.Registry
	execution     *ExecutionStage
	postProcessor *GlobalPostProcessor
}

// NewFactory creates a factory dispatching flow events to eventHandlers by event type.
func NewFactory(
	logger *slog.Logger,
	clock clock.Clock,
	vnodes vnode.Registry,
	execution *ExecutionStage,
	postProcessor *GlobalPostProcessor,
	eventHandlers ...flowctx.EventHandler,
) *Factory {
	handlers := make(map[core.FlowEventType]flowctx.EventHandler, len(eventHandlers))
	for _, h := range eventHandlers {
		handlers[h.EventType()] = h
	}

	return &Factory{
		logger:        logger,
		clock:         clock,
		eventHandlers: handlers,
		vnodes:        vnodes,
		execution:     execution,
		postProcessor: postProcessor,
	}
}

// Create builds the pipeline for processing event against the checkpoint state.
func (f *Factory) Create(state *core.CheckpointState, event *core.FlowEvent, cfg config.Config) (*Pipeline, error) {
	if event.FlowID == "" {
		return nil, errors.New("flow event without flow id")
	}

	if event.Attributes == nil {
		return nil, fmt.Errorf("flow event %s without attributes", event.Type)
	}

	if state != nil && state.FlowID != event.FlowID {
		return nil, fmt.Errorf("checkpoint of flow %s used for event of flow %s", state.FlowID, event.FlowID)
	}

	cp, err := checkpoint.New(state, f.clock, cfg.MaxSavedOutputs)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Context: &flowctx.FlowEventContext{
			Checkpoint:        cp,
			InputEvent:        event,
			InputEventPayload: event.Attributes,
			Config:            cfg,
			Logger:            f.logger.With(log.FlowIDKey, event.FlowID, log.EventTypeKey, event.Type.String()),
		},
		eventHandlers: f.eventHandlers,
		vnodes:        f.vnodes,
		execution:     f.execution,
		postProcessor: f.postProcessor,
	}, nil
}
