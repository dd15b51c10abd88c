package store

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const (
	codecJSON byte = 'j'
	codecZstd byte = 'z'
)

// EncodeAll and DecodeAll are safe for concurrent use
var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
var zstdDecoder, _ = zstd.NewReader(nil)

// generationRecord is the stored form of one (bucket, generation, namespace) unit.
type generationRecord struct {
	Bucket     int64             `json:"bucket"`
	Generation int64             `json:"generation"`
	Namespace  string            `json:"namespace"`
	KeysOnly   bool              `json:"keys_only"`
	Keys       []string          `json:"keys,omitempty"`
	Entries    map[string][]byte `json:"entries,omitempty"`
}

// entries returns the merged view of the record, keys only records map to nil values.
func (r *generationRecord) entries() map[string][]byte {
	if !r.KeysOnly {
		if r.Entries == nil {
			return map[string][]byte{}
		}
		return r.Entries
	}
	ret := make(map[string][]byte, len(r.Keys))
	for _, k := range r.Keys {
		ret[k] = nil
	}
	return ret
}

func newGenerationRecord(bucketID, generation int64, namespace string, keysOnly bool, entries map[string][]byte) *generationRecord {
	rec := &generationRecord{
		Bucket:     bucketID,
		Generation: generation,
		Namespace:  namespace,
		KeysOnly:   keysOnly,
	}
	if keysOnly {
		rec.Keys = make([]string, 0, len(entries))
		for k := range entries {
			rec.Keys = append(rec.Keys, k)
		}
		sort.Strings(rec.Keys)
	} else {
		rec.Entries = entries
	}
	return rec
}

func encodeRecord(rec *generationRecord, compress bool) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if !compress {
		return append([]byte{codecJSON}, raw...), nil
	}
	return zstdEncoder.EncodeAll(raw, []byte{codecZstd}), nil
}

func decodeRecord(data []byte) (*generationRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w", &ReadError{msg: "empty generation blob"})
	}
	raw := data[1:]
	switch data[0] {
	case codecJSON:
	case codecZstd:
		var err error
		raw, err = zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("zstd: %v", err)})
		}
	default:
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("unknown codec tag %q", data[0])})
	}
	rec := &generationRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("decode: %v", err)})
	}
	return rec, nil
}
