// Package flags evaluates feature flags for web events at capture time.
package flags

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
)

// longScale is the largest value of the 15 hex digits used for bucketing.
const longScale = float64(0xfffffffffffffff)

const queryActiveFlags = `
	SELECT key, rollout_percentage
	FROM feature_flags
	WHERE team_id = $1 AND active AND NOT deleted
	ORDER BY id
`

// Flag is one active flag definition. A nil RolloutPercentage enables the
// flag for everyone.
type Flag struct {
	Key               string
	RolloutPercentage *int
}

// Matches reports whether distinctID falls inside the rollout. Bucketing is
// stable: the same key and distinct id always land in the same bucket.
func (f Flag) Matches(distinctID string) bool {
	if f.RolloutPercentage == nil {
		return true
	}
	sum := sha1.Sum([]byte(f.Key + "." + distinctID))
	hash, err := strconv.ParseUint(hex.EncodeToString(sum[:])[:15], 16, 64)
	if err != nil {
		return false
	}
	return float64(hash)/longScale <= float64(*f.RolloutPercentage)/100
}

// Evaluator lists the flags of a team that are enabled for a distinct id.
type Evaluator struct {
	db *sql.DB
}

// NewEvaluator shares the tenant store's connection pool.
func NewEvaluator(db *sql.DB) *Evaluator {
	return &Evaluator{db: db}
}

func (e *Evaluator) ActiveFlags(ctx context.Context, teamID int64, distinctID string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, queryActiveFlags, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature flags: %w", err)
	}
	defer rows.Close()

	active := []string{}
	for rows.Next() {
		var f Flag
		var rollout sql.NullInt64
		if err := rows.Scan(&f.Key, &rollout); err != nil {
			return nil, fmt.Errorf("failed to scan feature flag: %w", err)
		}
		if rollout.Valid {
			pct := int(rollout.Int64)
			f.RolloutPercentage = &pct
		}
		if f.Matches(distinctID) {
			active = append(active, f.Key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature flags: %w", err)
	}
	return active, nil
}

// Static evaluates a fixed flag set for every team. The zero value has no
// flags and is used when no database is configured.
type Static struct {
	Flags []Flag
}

func (s Static) ActiveFlags(_ context.Context, _ int64, distinctID string) ([]string, error) {
	active := []string{}
	for _, f := range s.Flags {
		if f.Matches(distinctID) {
			active = append(active, f.Key)
		}
	}
	return active, nil
}
