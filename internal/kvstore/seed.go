package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Seed fills the store with n sample keys cycling through every value type,
// named like user:0001, session:0002, cart:0003 so patterns have something to
// narrow down.
func (s *Store) Seed(ctx context.Context, n int) error {
	kinds := []struct {
		prefix string
		typ    string
		value  func(i int) interface{}
	}{
		{"user", TypeHash, func(i int) interface{} {
			return map[string]string{"name": fmt.Sprintf("user-%d", i), "plan": "free"}
		}},
		{"session", TypeString, func(i int) interface{} { return fmt.Sprintf("token-%06d", i) }},
		{"queue", TypeList, func(i int) interface{} { return []string{"job-a", "job-b", fmt.Sprintf("job-%d", i)} }},
		{"tags", TypeSet, func(i int) interface{} { return []string{"blue", "green", fmt.Sprintf("t%d", i%7)} }},
		{"leaderboard", TypeZSet, func(i int) interface{} {
			return []ZMember{{Member: "alice", Score: float64(i)}, {Member: "bob", Score: float64(i * 2)}}
		}},
		{"doc", TypeJSON, func(i int) interface{} { return map[string]interface{}{"id": i, "tags": []string{"a", "b"}} }},
	}

	for i := 1; i <= n; i++ {
		kind := kinds[i%len(kinds)]
		raw, err := json.Marshal(kind.value(i))
		if err != nil {
			return err
		}
		var ttl time.Duration
		if kind.typ == TypeString {
			ttl = time.Hour
		}
		key := fmt.Sprintf("%s:%04d", kind.prefix, i)
		if err := s.Set(ctx, key, kind.typ, raw, ttl); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	s.logger.WithField("keys", n).Info("Seeded sample keys")
	return nil
}
