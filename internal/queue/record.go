package queue

import (
	"encoding/binary"
	"encoding/json"

	"github.com/mood-agency/relay/pkg/id"
)

// Message is a queued unit of work. Payload is a raw JSON document the engine
// carries but never interprets.
type Message struct {
	ID          id.ID           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    uint32          `json:"priority"`
	Attempts    int             `json:"attempts"`
	CreatedAtMs int64           `json:"createdAtMs"`
}

// DeadLetter is a message that exhausted its retry budget, retained for
// inspection together with the reason of its final failure.
type DeadLetter struct {
	Message
	Reason     string `json:"reason"`
	FailedAtMs int64  `json:"failedAtMs"`
}

func encodeMessage(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeDeadLetter(d *DeadLetter) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDeadLetter(b []byte) (*DeadLetter, error) {
	var d DeadLetter
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// meta record: lastSeq(8B BE) | totalProcessed(8B BE) | totalFailed(8B BE)

type metaRecord struct {
	LastSeq        uint64
	TotalProcessed uint64
	TotalFailed    uint64
}

func encodeMeta(m metaRecord) []byte {
	var out [24]byte
	binary.BigEndian.PutUint64(out[0:8], m.LastSeq)
	binary.BigEndian.PutUint64(out[8:16], m.TotalProcessed)
	binary.BigEndian.PutUint64(out[16:24], m.TotalFailed)
	return out[:]
}

func decodeMeta(b []byte) (metaRecord, bool) {
	if len(b) < 24 {
		return metaRecord{}, false
	}
	return metaRecord{
		LastSeq:        binary.BigEndian.Uint64(b[0:8]),
		TotalProcessed: binary.BigEndian.Uint64(b[8:16]),
		TotalFailed:    binary.BigEndian.Uint64(b[16:24]),
	}, true
}
