package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HoldingIdentity identifies a party within a membership group.
type HoldingIdentity struct {
	X500Name string `json:"x500_name,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
}

// ShortHash returns a short, stable hash of the identity for log and trace correlation.
func (h HoldingIdentity) ShortHash() string {
	sum := sha256.Sum256([]byte(h.X500Name + "|" + h.GroupID))
	return hex.EncodeToString(sum[:])[:12]
}

func (h HoldingIdentity) String() string {
	return fmt.Sprintf("%s@%s", h.X500Name, h.GroupID)
}

// FlowKey is the logical identity of a flow, used as the key of status records.
type FlowKey struct {
	ID       string          `json:"id,omitempty"`
	Identity HoldingIdentity `json:"identity"`
}

type InitiatorType int

const (
	InitiatorType_RPC InitiatorType = iota
	InitiatorType_P2P
)

func (it InitiatorType) String() string {
	switch it {
	case InitiatorType_RPC:
		return "RPC"
	case InitiatorType_P2P:
		return "P2P"
	default:
		return "Unknown"
	}
}

// FlowStartContext is the immutable context a flow was started with.
type FlowStartContext struct {
	StatusKey FlowKey `json:"status_key"`

	InitiatorType InitiatorType `json:"initiator_type"`

	// RequestID correlates the flow with the request that started it.
	RequestID string `json:"request_id,omitempty"`

	// Identity is the party the flow runs as.
	Identity HoldingIdentity `json:"identity"`

	// InitiatedBy is the RPC user's party for RPC-started flows and the peer for responders.
	InitiatedBy HoldingIdentity `json:"initiated_by"`

	FlowName  string `json:"flow_name,omitempty"`
	StartArgs string `json:"start_args,omitempty"`

	CreatedTimestamp time.Time `json:"created_timestamp"`
}
