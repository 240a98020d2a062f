package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/corey/bakewatch/internal/ports"
)

// seqKey encodes a sequence number as an 8-byte big-endian key so byte order
// matches numeric order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func seqFromKey(k []byte) uint64 {
	if len(k) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

func encodeRecord(rec ports.BuildRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (ports.BuildRecord, error) {
	var rec ports.BuildRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}
