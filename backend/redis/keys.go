package redis

import "fmt"

func checkpointKey(keyPrefix string, flowID string) string {
	return fmt.Sprintf("%vcheckpoint:%v", keyPrefix, flowID)
}

// checkpointsKey is the SET of flow ids with a stored checkpoint.
func checkpointsKey(keyPrefix string) string {
	return keyPrefix + "checkpoints"
}

// outboxKey is the stream of records waiting to be published.
func outboxKey(keyPrefix string) string {
	return keyPrefix + "outbox"
}

func deadLettersKey(keyPrefix string) string {
	return keyPrefix + "dead-letters"
}
