package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/chatagent/core"
)

// DefaultPath is where the runtime keeps checkpoints unless configured.
const DefaultPath = "data/agent_checkpoints.sqlite3"

// ErrNotStarted is returned when a Saver is used before Start or after Stop.
var ErrNotStarted = errors.New("checkpoint: store not started")

// Write is one entry of the append-only checkpoint log.
type Write struct {
	ID             string
	InvocationID   string
	ConversationID int64
	Stage          core.Stage
	State          *core.State
	Created        time.Time
}

func encodeState(st *core.State) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (*core.State, error) {
	var st core.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &st, nil
}
