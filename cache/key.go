package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// DefaultWhitelist lists the call options that take part in cache keys.
var DefaultWhitelist = []string{"model", "temperature", "max_tokens", "top_p", "stop", "seed"}

// Key derives a stable cache key from the provider, the payload and the
// whitelisted subset of options. Map ordering and options outside the
// whitelist do not affect the result. A nil whitelist means DefaultWhitelist.
func Key(provider string, payload any, options map[string]any, whitelist []string) (string, error) {
	if whitelist == nil {
		whitelist = DefaultWhitelist
	}

	body, err := normalize(payload)
	if err != nil {
		return "", fmt.Errorf("normalize payload: %w", err)
	}
	opts, err := normalize(lo.PickByKeys(options, whitelist))
	if err != nil {
		return "", fmt.Errorf("normalize options: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write(body)
	h.Write([]byte{0})
	h.Write(opts)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalize re-encodes v through a generic JSON value so that object keys
// come out sorted at every depth.
func normalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
