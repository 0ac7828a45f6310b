package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveParameter upserts a parameter.
func (r *SQLRepository) SaveParameter(ctx context.Context, tenantID int64, p *domain.Parameter) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO parameters (id, tenant_id, name, mandatory, data_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			mandatory = excluded.mandatory,
			data_type = excluded.data_type
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, boolInt(p.Mandatory), string(p.DataType))
	return err
}

// SaveFactor upserts a factor.
func (r *SQLRepository) SaveFactor(ctx context.Context, tenantID int64, f *domain.Factor) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO factors (id, tenant_id, parameter_id, attribute_name, condition_expr)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			parameter_id = excluded.parameter_id,
			attribute_name = excluded.attribute_name,
			condition_expr = excluded.condition_expr
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, tenantID, f.ParameterID, f.AttributeName, f.Condition)
	return err
}

// SaveRuleMaster upserts a rule master.
func (r *SQLRepository) SaveRuleMaster(ctx context.Context, tenantID int64, m *domain.RuleMaster) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO rule_masters (id, tenant_id, name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), m.ID, tenantID, m.Name, boolInt(m.Active))
	return err
}

// SaveRule upserts one rule version.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID int64, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO rules (id, tenant_id, master_id, version, expression, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			master_id = excluded.master_id,
			version = excluded.version,
			expression = excluded.expression,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.MasterID, rule.Version, rule.Expression,
		nullTime(rule.ValidFrom), nullTime(rule.ValidTo))
	return err
}

// SaveEcard upserts an eligibility card.
func (r *SQLRepository) SaveEcard(ctx context.Context, tenantID int64, c *domain.Ecard) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO ecards (id, tenant_id, name, expression)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			expression = excluded.expression
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, tenantID, c.Name, c.Expression)
	return err
}

// SavePcard upserts a product card. A product has at most one card.
func (r *SQLRepository) SavePcard(ctx context.Context, tenantID int64, c *domain.Pcard) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO pcards (id, tenant_id, product_id, expression)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			expression = excluded.expression
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, tenantID, c.ProductID, c.Expression)
	if err != nil {
		return fmt.Errorf("save pcard %d: %w", c.ID, err)
	}
	return nil
}

// SaveProduct upserts a product.
func (r *SQLRepository) SaveProduct(ctx context.Context, tenantID int64, p *domain.Product) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO products (id, tenant_id, code, name, max_amount)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			max_amount = excluded.max_amount
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Code, p.Name, p.MaxAmount.String())
	return err
}

// SaveProductCapAmount upserts a base-amount row.
func (r *SQLRepository) SaveProductCapAmount(ctx context.Context, tenantID int64, c *domain.ProductCapAmount) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	conditions, err := json.Marshal(c.Conditions)
	if err != nil {
		return fmt.Errorf("encode cap conditions: %w", err)
	}

	query := `
		INSERT INTO product_cap_amounts (id, tenant_id, product_id, row_order, conditions, amount)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			row_order = excluded.row_order,
			conditions = excluded.conditions,
			amount = excluded.amount
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.ProductID, c.RowOrder, string(conditions), c.Amount.String())
	return err
}

// SaveProductCap upserts a score bucket.
func (r *SQLRepository) SaveProductCap(ctx context.Context, tenantID int64, c *domain.ProductCap) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO product_caps (id, tenant_id, product_id, minimum_score, maximum_score, percentage)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			minimum_score = excluded.minimum_score,
			maximum_score = excluded.maximum_score,
			percentage = excluded.percentage
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.ProductID,
		c.MinimumScore.String(), c.MaximumScore.String(), c.Percentage.String())
	return err
}

// SaveExternalAPI upserts an enrichment source.
func (r *SQLRepository) SaveExternalAPI(ctx context.Context, tenantID int64, a *domain.ExternalAPI) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	headers, _ := json.Marshal(a.Headers)
	params, _ := json.Marshal(a.RequestParameters)

	query := `
		INSERT INTO external_apis (
			id, tenant_id, name, method, url, headers, request_parameters,
			execution_order, active, timeout_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			method = excluded.method,
			url = excluded.url,
			headers = excluded.headers,
			request_parameters = excluded.request_parameters,
			execution_order = excluded.execution_order,
			active = excluded.active,
			timeout_ms = excluded.timeout_ms
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.Name, a.Method, a.URL, string(headers), string(params),
		a.ExecutionOrder, boolInt(a.Active), a.TimeoutMs)
	return err
}

// SaveParameterAlias upserts the mapping of one response field.
func (r *SQLRepository) SaveParameterAlias(ctx context.Context, tenantID int64, a *domain.ParameterAlias) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO parameter_aliases (tenant_id, api_id, response_field, parameter_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, api_id, parameter_name) DO UPDATE SET
			response_field = excluded.response_field
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, a.APIID, a.ResponseField, a.ParameterName)
	return err
}
