package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

var (
	ErrFlowFailed   = errors.New("flow failed")
	ErrFlowKilled   = errors.New("flow killed")
	ErrWaitTimedOut = errors.New("flow did not finish in specified timeout")
)

// Submitter accepts flow event records, usually a worker.
type Submitter interface {
	Submit(ctx context.Context, r *core.Record) error
}

// Publisher receives the records the client does not keep to itself.
type Publisher interface {
	Publish(ctx context.Context, r *core.Record) error
}

type FlowOptions struct {
	// RequestID is the client's id of the start request. Generated when empty.
	RequestID string

	Identity    core.HoldingIdentity
	InitiatedBy core.HoldingIdentity
}

// FlowHandle identifies a started flow.
type FlowHandle struct {
	FlowID string
	Key    core.FlowKey
}

// Client starts flows through a worker and follows their status records. It is installed as
// the worker's publisher so that it sees every status the worker emits.
type Client struct {
	submitter Submitter
	store     backend.Store
	next      Publisher
	clock     clock.Clock

	statuses *ttlcache.Cache[core.FlowKey, *core.FlowStatus]
}

// New creates a client. Status records are kept for statusTTL after their last update, and
// every published record is forwarded to next when it is not nil.
func New(submitter Submitter, store backend.Store, next Publisher, statusTTL time.Duration) *Client {
	return &Client{
		submitter: submitter,
		store:     store,
		next:      next,
		clock:     clock.New(),
		statuses: ttlcache.New(
			ttlcache.WithTTL[core.FlowKey, *core.FlowStatus](statusTTL),
		),
	}
}

// StartFlow requests a new flow of the given name.
func (c *Client) StartFlow(ctx context.Context, options FlowOptions, flowName, args string) (*FlowHandle, error) {
	requestID := options.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	h := &FlowHandle{
		FlowID: uuid.NewString(),
		Key:    core.FlowKey{ID: requestID, Identity: options.Identity},
	}

	ctx, span := c.store.Tracer().Start(ctx, fmt.Sprintf("StartFlow: %s", flowName), trace.WithAttributes(
		attribute.String(log.FlowIDKey, h.FlowID),
		attribute.String(log.FlowNameKey, flowName),
		attribute.String(log.RequestIDKey, requestID),
	))
	defer span.End()

	sc := &core.FlowStartContext{
		StatusKey:        h.Key,
		InitiatorType:    core.InitiatorType_RPC,
		RequestID:        requestID,
		Identity:         options.Identity,
		InitiatedBy:      options.InitiatedBy,
		FlowName:         flowName,
		StartArgs:        args,
		CreatedTimestamp: c.clock.Now(),
	}

	r := core.NewRecord(core.FlowEventTopic, h.FlowID, core.NewStartFlowEvent(h.FlowID, sc))
	if err := c.submitter.Submit(ctx, r); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("submitting start event: %w", err)
	}

	c.store.Options().Logger.DebugContext(ctx, "Requested flow start",
		log.FlowIDKey, h.FlowID,
		log.FlowNameKey, flowName,
		log.RequestIDKey, requestID,
		log.IdentityKey, options.Identity.ShortHash(),
	)

	c.store.Metrics().Counter(metrickeys.FlowStartRequested, metrics.Tags{}, 1)

	return h, nil
}

// Publish records status updates and forwards the record.
func (c *Client) Publish(ctx context.Context, r *core.Record) error {
	if s, ok := r.Payload.(*core.FlowStatus); ok {
		c.statuses.Set(s.Key, s, ttlcache.DefaultTTL)
	}

	if c.next != nil {
		return c.next.Publish(ctx, r)
	}

	return nil
}

// GetFlowStatus returns the latest status seen for the flow.
func (c *Client) GetFlowStatus(key core.FlowKey) (*core.FlowStatus, bool) {
	item := c.statuses.Get(key)
	if item == nil {
		return nil, false
	}

	return item.Value(), true
}

// WaitForFlow waits for the given flow to finish or until the given timeout has expired.
func (c *Client) WaitForFlow(ctx context.Context, h *FlowHandle, timeout time.Duration) (*core.FlowStatus, error) {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.store.Tracer().Start(ctx, "WaitForFlow", trace.WithAttributes(
		attribute.String(log.FlowIDKey, h.FlowID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTickerWithTimer(backoff.WithContext(&b, ctx), nil)
	defer ticker.Stop()

	for range ticker.C {
		if s, ok := c.GetFlowStatus(h.Key); ok && finished(s.Status) {
			return s, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return nil, ErrWaitTimedOut
}

// GetFlowResult waits for the flow to finish and returns its result.
func GetFlowResult(ctx context.Context, c *Client, h *FlowHandle, timeout time.Duration) (string, error) {
	s, err := c.WaitForFlow(ctx, h, timeout)
	if err != nil {
		return "", fmt.Errorf("flow did not finish in time: %w", err)
	}

	switch s.Status {
	case core.FlowStates_Failed:
		if s.Error != nil {
			return "", fmt.Errorf("%w: %w", ErrFlowFailed, s.Error)
		}

		return "", ErrFlowFailed

	case core.FlowStates_Killed:
		return "", fmt.Errorf("%w: %v", ErrFlowKilled, s.ProcessingTerminatedReason)
	}

	return s.Result, nil
}

// GetStats returns the store's current counts.
func (c *Client) GetStats(ctx context.Context) (*backend.Stats, error) {
	return c.store.GetStats(ctx)
}

func finished(s core.FlowStates) bool {
	switch s {
	case core.FlowStates_Completed, core.FlowStates_Failed, core.FlowStates_Killed:
		return true
	}

	return false
}
