package memory

import (
	"encoding/json"
	"fmt"
)

// BucketPayload is one bucket of a Snapshot in its JSON form.
type BucketPayload struct {
	Name string
	Data []byte
}

// EncodeBuckets renders every bucket in BucketNames order.
func (s *Snapshot) EncodeBuckets() ([]BucketPayload, error) {
	targets := s.Buckets()
	out := make([]BucketPayload, 0, len(targets))
	for _, name := range BucketNames() {
		data, err := json.Marshal(targets[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, BucketPayload{Name: name, Data: data})
	}
	return out, nil
}

// DecodeBucket fills the named bucket from data. Unknown names and empty
// payloads are skipped and report false.
func (s *Snapshot) DecodeBucket(name string, data []byte) (bool, error) {
	target, ok := s.Buckets()[name]
	if !ok || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}
