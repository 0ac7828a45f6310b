package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// LoadSnapshot reads the full configuration of one tenant.
func (r *SQLRepository) LoadSnapshot(ctx context.Context, tenantID int64) (*domain.Snapshot, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{TenantID: tenantID, LoadedAt: time.Now().UTC()}
	var err error

	if snap.Parameters, err = queryTenant(ctx, r, `
		SELECT id, tenant_id, name, mandatory, data_type
		FROM parameters WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.Parameter, error) {
			var p domain.Parameter
			var mandatory int
			var dt string
			err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &mandatory, &dt)
			p.Mandatory, p.DataType = mandatory == 1, domain.DataType(dt)
			return p, err
		}); err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}

	if snap.Factors, err = queryTenant(ctx, r, `
		SELECT id, parameter_id, attribute_name, condition_expr
		FROM factors WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.Factor, error) {
			var f domain.Factor
			err := rows.Scan(&f.ID, &f.ParameterID, &f.AttributeName, &f.Condition)
			return f, err
		}); err != nil {
		return nil, fmt.Errorf("load factors: %w", err)
	}

	if snap.RuleMasters, err = queryTenant(ctx, r, `
		SELECT id, name, active
		FROM rule_masters WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.RuleMaster, error) {
			var m domain.RuleMaster
			var active int
			err := rows.Scan(&m.ID, &m.Name, &active)
			m.Active = active == 1
			return m, err
		}); err != nil {
		return nil, fmt.Errorf("load rule masters: %w", err)
	}

	if snap.Rules, err = queryTenant(ctx, r, `
		SELECT id, master_id, version, expression, valid_from, valid_to
		FROM rules WHERE tenant_id = ? ORDER BY master_id, version DESC`, tenantID,
		func(rows *sql.Rows) (domain.Rule, error) {
			var rule domain.Rule
			var from, to sql.NullTime
			err := rows.Scan(&rule.ID, &rule.MasterID, &rule.Version, &rule.Expression, &from, &to)
			rule.ValidFrom, rule.ValidTo = timePtr(from), timePtr(to)
			return rule, err
		}); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	if snap.Ecards, err = queryTenant(ctx, r, `
		SELECT id, name, expression
		FROM ecards WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.Ecard, error) {
			var c domain.Ecard
			err := rows.Scan(&c.ID, &c.Name, &c.Expression)
			return c, err
		}); err != nil {
		return nil, fmt.Errorf("load ecards: %w", err)
	}

	if snap.Pcards, err = queryTenant(ctx, r, `
		SELECT id, product_id, expression
		FROM pcards WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.Pcard, error) {
			var c domain.Pcard
			err := rows.Scan(&c.ID, &c.ProductID, &c.Expression)
			return c, err
		}); err != nil {
		return nil, fmt.Errorf("load pcards: %w", err)
	}

	if snap.Products, err = queryTenant(ctx, r, `
		SELECT id, code, name, max_amount
		FROM products WHERE tenant_id = ? ORDER BY id`, tenantID,
		func(rows *sql.Rows) (domain.Product, error) {
			var p domain.Product
			var maxAmount string
			if err := rows.Scan(&p.ID, &p.Code, &p.Name, &maxAmount); err != nil {
				return p, err
			}
			m, err := decimal.NewFromString(maxAmount)
			p.MaxAmount = m
			return p, err
		}); err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	if snap.ProductCapAmounts, err = queryTenant(ctx, r, `
		SELECT id, product_id, row_order, conditions, amount
		FROM product_cap_amounts WHERE tenant_id = ? ORDER BY product_id, row_order, id`, tenantID,
		func(rows *sql.Rows) (domain.ProductCapAmount, error) {
			var c domain.ProductCapAmount
			var conditions, amount string
			if err := rows.Scan(&c.ID, &c.ProductID, &c.RowOrder, &conditions, &amount); err != nil {
				return c, err
			}
			if err := json.Unmarshal([]byte(conditions), &c.Conditions); err != nil {
				return c, fmt.Errorf("cap amount %d conditions: %w", c.ID, err)
			}
			a, err := decimal.NewFromString(amount)
			c.Amount = a
			return c, err
		}); err != nil {
		return nil, fmt.Errorf("load product cap amounts: %w", err)
	}

	if snap.ProductCaps, err = queryTenant(ctx, r, `
		SELECT id, product_id, minimum_score, maximum_score, percentage
		FROM product_caps WHERE tenant_id = ? ORDER BY product_id, id`, tenantID,
		func(rows *sql.Rows) (domain.ProductCap, error) {
			var c domain.ProductCap
			var lo, hi, pct string
			if err := rows.Scan(&c.ID, &c.ProductID, &lo, &hi, &pct); err != nil {
				return c, err
			}
			return c, parseDecimals([]string{lo, hi, pct}, &c.MinimumScore, &c.MaximumScore, &c.Percentage)
		}); err != nil {
		return nil, fmt.Errorf("load product caps: %w", err)
	}

	if snap.ExternalAPIs, err = queryTenant(ctx, r, `
		SELECT id, tenant_id, name, method, url, headers, request_parameters,
		       execution_order, active, timeout_ms
		FROM external_apis WHERE tenant_id = ? AND active = 1 ORDER BY execution_order, id`, tenantID,
		func(rows *sql.Rows) (domain.ExternalAPI, error) {
			var a domain.ExternalAPI
			var headers, params string
			var active int
			if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Method, &a.URL, &headers, &params,
				&a.ExecutionOrder, &active, &a.TimeoutMs); err != nil {
				return a, err
			}
			a.Active = active == 1
			if err := json.Unmarshal([]byte(headers), &a.Headers); err != nil {
				return a, fmt.Errorf("api %d headers: %w", a.ID, err)
			}
			if err := json.Unmarshal([]byte(params), &a.RequestParameters); err != nil {
				return a, fmt.Errorf("api %d request parameters: %w", a.ID, err)
			}
			return a, nil
		}); err != nil {
		return nil, fmt.Errorf("load external apis: %w", err)
	}

	if snap.ParameterAliases, err = queryTenant(ctx, r, `
		SELECT api_id, response_field, parameter_name
		FROM parameter_aliases WHERE tenant_id = ? ORDER BY api_id, parameter_name`, tenantID,
		func(rows *sql.Rows) (domain.ParameterAlias, error) {
			var a domain.ParameterAlias
			err := rows.Scan(&a.APIID, &a.ResponseField, &a.ParameterName)
			return a, err
		}); err != nil {
		return nil, fmt.Errorf("load parameter aliases: %w", err)
	}

	return snap, nil
}

// queryTenant runs a query whose only argument is the tenant id.
func queryTenant[T any](ctx context.Context, r *SQLRepository, query string, tenantID int64, scan func(*sql.Rows) (T, error)) ([]T, error) {
	return queryRows(ctx, r, query, scan, tenantID)
}

// queryRows runs query and scans every row.
func queryRows[T any](ctx context.Context, r *SQLRepository, query string, scan func(*sql.Rows) (T, error), args ...any) ([]T, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func parseDecimals(raw []string, dst ...*decimal.Decimal) error {
	for i, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
