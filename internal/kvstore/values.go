package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ZMember is one member of a sorted set
type ZMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// validateValue checks that value has the shape its type requires and
// returns it in canonical form: sets deduplicated and sorted, sorted sets
// ordered by score then member.
func validateValue(valueType string, value json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidValue)
	}
	// null decodes into every Go type without error; only json values may hold it
	if valueType != TypeJSON && bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: %s value must not be null", ErrInvalidValue, valueType)
	}

	var out interface{}
	switch valueType {
	case TypeString:
		var v string
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: string expects a JSON string", ErrInvalidValue)
		}
		out = v
	case TypeHash:
		var v map[string]string
		if err := json.Unmarshal(value, &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: hash expects an object of strings", ErrInvalidValue)
		}
		out = v
	case TypeList:
		var v []string
		if err := json.Unmarshal(value, &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: list expects an array of strings", ErrInvalidValue)
		}
		out = v
	case TypeSet:
		var v []string
		if err := json.Unmarshal(value, &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: set expects an array of strings", ErrInvalidValue)
		}
		out = dedupe(v)
	case TypeZSet:
		var v []ZMember
		if err := json.Unmarshal(value, &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: zset expects an array of {member, score}", ErrInvalidValue)
		}
		out = normalizeZSet(v)
	case TypeJSON:
		if !json.Valid(value) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidValue)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, valueType)
	}

	return json.Marshal(out)
}

func dedupe(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func normalizeZSet(members []ZMember) []ZMember {
	byMember := make(map[string]float64, len(members))
	for _, m := range members {
		byMember[m.Member] = m.Score
	}
	out := make([]ZMember, 0, len(byMember))
	for member, score := range byMember {
		out = append(out, ZMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// ValidType reports whether t is a known value type
func ValidType(t string) bool {
	switch t {
	case TypeString, TypeHash, TypeList, TypeSet, TypeZSet, TypeJSON:
		return true
	}
	return false
}
