package pgx

import (
	"context"
	"encoding/json"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// DecisionLog implements store.DecisionLog on the review_decisions table.
type DecisionLog struct {
	conn pgxIConn
}

func NewDecisionLogWithConnection(conn pgxIConn) *DecisionLog {
	return &DecisionLog{conn: conn}
}

func (d *DecisionLog) AppendDecision(ctx context.Context, dec common.ReviewDecision) error {
	candidate, err := json.Marshal(dec.Candidate)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(ctx, `
		INSERT INTO review_decisions
			(id, session_id, candidate_index, candidate, verdict, reviewer, duplicate, error, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		dec.ID, dec.SessionID, dec.Index, candidate, string(dec.Verdict),
		dec.Reviewer, dec.Duplicate, dec.Error, dec.DecidedAt,
	)
	return err
}

func (d *DecisionLog) ListDecisions(ctx context.Context, sessionID string) ([]common.ReviewDecision, error) {
	rows, err := d.conn.Query(ctx, `
		SELECT id, session_id, candidate_index, candidate, verdict, reviewer, duplicate, error, decided_at
		FROM review_decisions
		WHERE $1 = '' OR session_id = $1
		ORDER BY decided_at, candidate_index`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ReviewDecision
	for rows.Next() {
		var (
			dec       common.ReviewDecision
			candidate []byte
			verdict   string
		)
		if err := rows.Scan(
			&dec.ID, &dec.SessionID, &dec.Index, &candidate, &verdict,
			&dec.Reviewer, &dec.Duplicate, &dec.Error, &dec.DecidedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(candidate, &dec.Candidate); err != nil {
			return nil, err
		}
		dec.Verdict = common.Verdict(verdict)
		out = append(out, dec)
	}
	return out, rows.Err()
}
