package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/callq/internal/eligibility"
)

// LoadOperators returns the operator reference rows of one department.
func (s *Store) LoadOperators(ctx context.Context, departmentID int) ([]eligibility.Operator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, full_name FROM operators WHERE department_id = $1 ORDER BY id`,
		departmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query operators: %w", err)
	}
	defer rows.Close()

	var out []eligibility.Operator
	for rows.Next() {
		var op eligibility.Operator
		if err := rows.Scan(&op.ID, &op.FullName); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
