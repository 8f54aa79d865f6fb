package storage

import (
	"context"

	apperrors "github.com/presale-coordinator/internal/errors"
	"github.com/presale-coordinator/internal/types"
)

// TransitionRepository appends coordinator status transitions to the
// ClickHouse audit trail
type TransitionRepository struct {
	db *ClickHouseDB
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *ClickHouseDB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// RecordTransition appends one status transition
func (r *TransitionRepository) RecordTransition(ctx context.Context, t types.PurchaseTransition) error {
	err := r.db.Exec(ctx, `
		INSERT INTO purchase_transitions
			(attempt_id, network, tx_hash, from_state, to_state, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		t.AttemptID,
		string(t.Network),
		t.Hash,
		t.From,
		t.To,
		t.Detail,
		t.At,
	)
	if err != nil {
		return apperrors.NewDatabaseError("record transition", err)
	}
	return nil
}

// ListByAttempt returns the transition history of one attempt in order
func (r *TransitionRepository) ListByAttempt(ctx context.Context, attemptID string) ([]types.PurchaseTransition, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT attempt_id, network, tx_hash, from_state, to_state, detail, at
		FROM purchase_transitions
		WHERE attempt_id = ?
		ORDER BY at ASC
	`, attemptID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list transitions", err)
	}
	defer rows.Close()

	var transitions []types.PurchaseTransition
	for rows.Next() {
		var t types.PurchaseTransition
		var network string
		if err := rows.Scan(&t.AttemptID, &network, &t.Hash, &t.From, &t.To, &t.Detail, &t.At); err != nil {
			return nil, apperrors.NewDatabaseError("scan transition", err)
		}
		t.Network = types.Network(network)
		transitions = append(transitions, t)
	}
	return transitions, nil
}
