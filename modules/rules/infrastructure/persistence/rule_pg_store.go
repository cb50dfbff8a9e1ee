package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ruleboard/ruleboard/modules/rules/domain/ports"
	"github.com/ruleboard/ruleboard/modules/rules/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type RulePGStore struct {
	pool pgBeginner
}

func NewRulePGStore(pool pgBeginner) ports.RuleStore {
	return &RulePGStore{pool: pool}
}

const ruleColumns = `id::text, tenant_id, name, rule_index, source, destination, action, created_at, updated_at`

func (s *RulePGStore) ListByTenant(ctx context.Context, tenantID string, q ports.ListQuery) ([]types.Rule, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var total int
	if err := tx.QueryRow(ctx, `
SELECT count(*) FROM rules.rules WHERE tenant_id = $1
`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	sql := `
SELECT ` + ruleColumns + `
FROM rules.rules
WHERE tenant_id = $1
ORDER BY rule_index ` + order
	args := []any{tenantID}
	if q.Limit > 0 {
		sql += `
LIMIT $2 OFFSET $3`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]types.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *RulePGStore) FindByID(ctx context.Context, id string) (types.Rule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Rule{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	r, err := scanRule(tx.QueryRow(ctx, `
SELECT `+ruleColumns+`
FROM rules.rules
WHERE id = $1::uuid
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Rule{}, ports.ErrRuleNotFound
		}
		return types.Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Rule{}, err
	}
	return r, nil
}

func (s *RulePGStore) MaxKey(ctx context.Context, tenantID string) (float64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var maxKey *float64
	if err := tx.QueryRow(ctx, `
SELECT max(rule_index) FROM rules.rules WHERE tenant_id = $1
`, tenantID).Scan(&maxKey); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	if maxKey == nil {
		return 0, false, nil
	}
	return *maxKey, true, nil
}

func (s *RulePGStore) Neighbors(ctx context.Context, tenantID string, key float64) (*types.Rule, *types.Rule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var lower, upper *types.Rule
	r, err := scanRule(tx.QueryRow(ctx, `
SELECT `+ruleColumns+`
FROM rules.rules
WHERE tenant_id = $1 AND rule_index < $2
ORDER BY rule_index DESC
LIMIT 1
`, tenantID, key))
	if err == nil {
		lower = &r
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	r, err = scanRule(tx.QueryRow(ctx, `
SELECT `+ruleColumns+`
FROM rules.rules
WHERE tenant_id = $1 AND rule_index > $2
ORDER BY rule_index ASC
LIMIT 1
`, tenantID, key))
	if err == nil {
		upper = &r
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}

func (s *RulePGStore) Create(ctx context.Context, r types.Rule) (types.Rule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Rule{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	source, err := json.Marshal(emptyIfNilSources(r.Source))
	if err != nil {
		return types.Rule{}, err
	}
	destination, err := json.Marshal(emptyIfNilDestinations(r.Destination))
	if err != nil {
		return types.Rule{}, err
	}

	created, err := scanRule(tx.QueryRow(ctx, `
INSERT INTO rules.rules (id, tenant_id, name, rule_index, source, destination, action)
VALUES ($1::uuid, $2, NULLIF($3, ''), $4, $5::jsonb, $6::jsonb, $7)
RETURNING `+ruleColumns+`
`, r.ID, r.TenantID, r.Name, r.RuleIndex, source, destination, string(r.Action)))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Rule{}, ports.ErrDuplicateIndex
		}
		return types.Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Rule{}, err
	}
	return created, nil
}

func (s *RulePGStore) UpdateFields(ctx context.Context, id string, patch ports.FieldPatch) (types.Rule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Rule{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var source, destination []byte
	if patch.Source != nil {
		if source, err = json.Marshal(emptyIfNilSources(*patch.Source)); err != nil {
			return types.Rule{}, err
		}
	}
	if patch.Destination != nil {
		if destination, err = json.Marshal(emptyIfNilDestinations(*patch.Destination)); err != nil {
			return types.Rule{}, err
		}
	}
	var action *string
	if patch.Action != nil {
		a := string(*patch.Action)
		action = &a
	}

	updated, err := scanRule(tx.QueryRow(ctx, `
UPDATE rules.rules SET
  name        = COALESCE($2, name),
  source      = COALESCE($3::jsonb, source),
  destination = COALESCE($4::jsonb, destination),
  action      = COALESCE($5, action),
  updated_at  = now()
WHERE id = $1::uuid
RETURNING `+ruleColumns+`
`, id, patch.Name, source, destination, action))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Rule{}, ports.ErrRuleNotFound
		}
		return types.Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Rule{}, err
	}
	return updated, nil
}

func (s *RulePGStore) UpdateKeyGuarded(ctx context.Context, tenantID string, id string, newKey float64, guards []ports.KeyGuard) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	guardIDs := make([]string, 0, len(guards))
	guardKeys := make([]float64, 0, len(guards))
	for _, g := range guards {
		guardIDs = append(guardIDs, g.RuleID)
		guardKeys = append(guardKeys, g.Key)
	}

	tag, err := tx.Exec(ctx, `
UPDATE rules.rules r SET rule_index = $3, updated_at = now()
WHERE r.id = $2::uuid AND r.tenant_id = $1
  AND NOT EXISTS (
    SELECT 1
    FROM unnest($4::uuid[], $5::float8[]) AS g(id, key)
    LEFT JOIN rules.rules n ON n.id = g.id AND n.tenant_id = $1
    WHERE n.id IS NULL OR n.rule_index <> g.key
  )
`, tenantID, id, newKey, guardIDs, guardKeys)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateIndex
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM rules.rules WHERE id = $1::uuid AND tenant_id = $2)
`, id, tenantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ports.ErrRuleNotFound
		}
		return ports.ErrStaleSnapshot
	}

	return tx.Commit(ctx)
}

func (s *RulePGStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var ruleIndex float64
	if err := tx.QueryRow(ctx, `
SELECT rule_index FROM rules.rules WHERE id = $1::uuid
`, id).Scan(&ruleIndex); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrRuleNotFound
		}
		return err
	}
	if ruleIndex == 0 {
		return ports.ErrCleanupRule
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM rules.rules WHERE id = $1::uuid
`, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *RulePGStore) RenumberTenant(ctx context.Context, tenantID string, assign []ports.KeyAssignment) error {
	if len(assign) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	// The unique constraint is deferrable so the whole renumbering is checked
	// once at commit instead of per row.
	if _, err := tx.Exec(ctx, `SET CONSTRAINTS rules_tenant_rule_index_key DEFERRED`); err != nil {
		return err
	}

	ids := make([]string, 0, len(assign))
	keys := make([]float64, 0, len(assign))
	for _, a := range assign {
		ids = append(ids, a.RuleID)
		keys = append(keys, a.Key)
	}

	if _, err := tx.Exec(ctx, `
UPDATE rules.rules r SET rule_index = a.key, updated_at = now()
FROM unnest($2::uuid[], $3::float8[]) AS a(id, key)
WHERE r.tenant_id = $1 AND r.id = a.id
`, tenantID, ids, keys); err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateIndex
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ports.ErrDuplicateIndex
		}
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (types.Rule, error) {
	var (
		r           types.Rule
		name        *string
		source      []byte
		destination []byte
		action      string
	)
	if err := row.Scan(&r.ID, &r.TenantID, &name, &r.RuleIndex, &source, &destination, &action, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return types.Rule{}, err
	}
	if name != nil {
		r.Name = *name
	}
	r.Action = types.Action(action)
	if source != nil {
		if err := json.Unmarshal(source, &r.Source); err != nil {
			return types.Rule{}, err
		}
	}
	if destination != nil {
		if err := json.Unmarshal(destination, &r.Destination); err != nil {
			return types.Rule{}, err
		}
	}
	if r.Source == nil {
		r.Source = []types.SourceRef{}
	}
	if r.Destination == nil {
		r.Destination = []types.DestinationRef{}
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		return pgErr.Code == "23505"
	}
	return false
}

func emptyIfNilSources(in []types.SourceRef) []types.SourceRef {
	if in == nil {
		return []types.SourceRef{}
	}
	return in
}

func emptyIfNilDestinations(in []types.DestinationRef) []types.DestinationRef {
	if in == nil {
		return []types.DestinationRef{}
	}
	return in
}
