package payload

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the hex MD5 digest of v's canonical JSON encoding. Object keys
// are sorted, so equal documents hash equally regardless of key order.
func Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}
