package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Logical messages on the wire are serialized EventEnvelope values.

func EncodeEnvelope(env EventEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func DecodeEnvelope(b []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Origin == "" || env.Seq == 0 {
		return env, fmt.Errorf("decode envelope: missing origin or seq")
	}
	return env, nil
}
