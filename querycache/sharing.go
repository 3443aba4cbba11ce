package querycache

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// fingerprint hashes the msgpack encoding of v with map keys sorted, so two
// structurally equal values hash the same. ok is false when v cannot be
// encoded, in which case the value is treated as changed.
func fingerprint(v any) (sum uint64, ok bool) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return 0, false
	}
	return xxhash.Sum64(buf.Bytes()), true
}
