package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Key derives the content address for a parameter set: the SHA-256 of a
// deterministic serialization. Map keys are sorted at every nesting level;
// slices keep their order. Identical parameters always hash identically.
func Key(params map[string]any) string {
	h := sha256.Sum256([]byte(canonical(params)))
	return hex.EncodeToString(h[:])
}

// canonical renders a value deterministically. encoding/json already sorts
// map[string]any keys, but struct values and custom marshalers are
// normalized through a decode/encode round trip first.
func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("!unserializable:%v", v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return stableEncode(decoded)
}

func stableEncode(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + stableEncode(t[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += stableEncode(e)
		}
		return out + "]"
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
