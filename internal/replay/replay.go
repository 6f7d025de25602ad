// Package replay returns the recorded outputs of events that were already processed.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/corda/corda-runtime-os-sub030/core"
)

// EventHash identifies an input record by its content.
func EventHash(record *core.Record) (string, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("hashing event: %w", err)
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:]), nil
}

// GetReplayEvents returns the outputs recorded for the event with the given hash, most
// recent first, or nil if the event was not processed before.
func GetReplayEvents(hash string, state *core.CheckpointState) []*core.Record {
	if state == nil {
		return nil
	}

	for i := len(state.SavedOutputs) - 1; i >= 0; i-- {
		if so := state.SavedOutputs[i]; so.InputEventHash == hash {
			return so.Records
		}
	}

	return nil
}

// GenerateSavedOutputs keeps the records that must be re-emitted when the event is
// delivered again. It returns nil if there are none.
func GenerateSavedOutputs(hash string, records []*core.Record) *core.SavedOutputs {
	var replayable []*core.Record

	for _, r := range records {
		if isReplayable(r) {
			replayable = append(replayable, r)
		}
	}

	if len(replayable) == 0 {
		return nil
	}

	return &core.SavedOutputs{
		InputEventHash: hash,
		Records:        replayable,
	}
}

func isReplayable(r *core.Record) bool {
	if r == nil {
		return false
	}

	switch r.Payload.(type) {
	case *core.FlowStatus, *core.FlowMapperEvent, string:
		return true
	}

	return false
}
