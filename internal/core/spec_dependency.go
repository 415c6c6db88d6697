package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/fulfillment/internal/model"
)

// SpecDependencyService stores the specification dependency catalog and the
// provisioning state of every specification. It backs the dependency graph.
type SpecDependencyService struct {
	db TxDB
}

func NewSpecDependencyService(db TxDB) *SpecDependencyService {
	return &SpecDependencyService{db: db}
}

// LoadSpecDependencies returns the declared dependencies of specID.
func (s *SpecDependencyService) LoadSpecDependencies(ctx context.Context, specID uuid.UUID) ([]model.SpecDependency, error) {
	rows, err := s.db.Query(ctx,
		`SELECT service_specification_id, depends_on_specification_id, dependency_type, required
		 FROM service_dependencies
		 WHERE service_specification_id = $1
		 ORDER BY depends_on_specification_id`, specID,
	)
	if err != nil {
		return nil, fmt.Errorf("load dependencies of %s: %w", specID, err)
	}
	defer rows.Close()

	deps, err := scanSpecDependencies(rows)
	if err != nil {
		return nil, fmt.Errorf("load dependencies of %s: %w", specID, err)
	}
	return deps, nil
}

// LoadGraph reads every dependency edge and every specification state row.
func (s *SpecDependencyService) LoadGraph(ctx context.Context) (*model.GraphSnapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT service_specification_id, depends_on_specification_id, dependency_type, required
		 FROM service_dependencies
		 ORDER BY service_specification_id, depends_on_specification_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dependency edges: %w", err)
	}
	edges, err := scanSpecDependencies(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx,
		`SELECT service_specification_id, service_id, state, updated_at
		 FROM service_specification_states
		 ORDER BY service_specification_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query specification states: %w", err)
	}
	defer rows.Close()

	snap := &model.GraphSnapshot{Edges: edges}
	for rows.Next() {
		var st model.SpecState
		var state string
		if err := rows.Scan(&st.SpecID, &st.ServiceID, &state, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan specification state: %w", err)
		}
		st.State = model.ParseNodeState(state)
		snap.States = append(snap.States, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate specification states: %w", err)
	}
	return snap, nil
}

// SaveGraph replaces all dependency edges with the snapshot's and upserts
// every specification state, in one transaction.
func (s *SpecDependencyService) SaveGraph(ctx context.Context, snap *model.GraphSnapshot) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM service_dependencies"); err != nil {
			return fmt.Errorf("clear dependency edges: %w", err)
		}
		for _, e := range snap.Edges {
			if _, err := tx.Exec(ctx,
				`INSERT INTO service_dependencies (service_specification_id, depends_on_specification_id, dependency_type, required)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (service_specification_id, depends_on_specification_id) DO NOTHING`,
				e.SpecID, e.DependsOnSpecID, string(e.Type), e.Required,
			); err != nil {
				return fmt.Errorf("insert dependency %s -> %s: %w", e.SpecID, e.DependsOnSpecID, err)
			}
		}
		for _, st := range snap.States {
			if _, err := tx.Exec(ctx,
				`INSERT INTO service_specification_states (service_specification_id, service_id, state, updated_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (service_specification_id) DO UPDATE
				 SET service_id = EXCLUDED.service_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
				st.SpecID, st.ServiceID, string(st.State), st.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert state of %s: %w", st.SpecID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save dependency graph: %w", err)
	}
	return nil
}

// SeedCatalog upserts the given dependency declarations and returns how many
// were written. Existing edges not in deps are left alone.
func (s *SpecDependencyService) SeedCatalog(ctx context.Context, deps []model.SpecDependency) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, d := range deps {
			if d.Type == "" {
				d.Type = model.DependencyRequiresActive
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO service_dependencies (service_specification_id, depends_on_specification_id, dependency_type, required)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (service_specification_id, depends_on_specification_id) DO UPDATE
				 SET dependency_type = EXCLUDED.dependency_type, required = EXCLUDED.required`,
				d.SpecID, d.DependsOnSpecID, string(d.Type), d.Required,
			); err != nil {
				return fmt.Errorf("seed dependency %s -> %s: %w", d.SpecID, d.DependsOnSpecID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed dependency catalog: %w", err)
	}
	return n, nil
}

func scanSpecDependencies(rows pgx.Rows) ([]model.SpecDependency, error) {
	var deps []model.SpecDependency
	for rows.Next() {
		var d model.SpecDependency
		var depType string
		if err := rows.Scan(&d.SpecID, &d.DependsOnSpecID, &depType, &d.Required); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		d.Type = model.DependencyType(depType)
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return deps, nil
}
