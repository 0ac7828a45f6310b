package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveEvaluationRun stores a run and its API call logs in one transaction.
func (r *SQLRepository) SaveEvaluationRun(ctx context.Context, run *domain.EvaluationRun, logs []domain.APICallLog) error {
	if err := requireTenant(run.TenantID); err != nil {
		return err
	}

	inputs, _ := json.Marshal(run.Inputs)
	eligible, _ := json.Marshal(run.EligibleProducts)
	nonEligible, _ := json.Marshal(run.NonEligibleProducts)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var score sql.NullFloat64
	if run.CustomerScore != nil {
		score = sql.NullFloat64{Float64: *run.CustomerScore, Valid: true}
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO evaluation_runs (
			id, tenant_id, request_id, customer_score, inputs,
			eligible_products, non_eligible_products, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		run.ID, run.TenantID, run.RequestID, score, string(inputs),
		string(eligible), string(nonEligible), run.DurationMs, run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}

	logQuery := r.rebind(`
		INSERT INTO api_call_logs (
			id, run_id, tenant_id, request_id, api_id, api_name, success, status_code,
			request_body, response_body, error, duration_ms, called_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, logQuery,
			l.ID, run.ID, run.TenantID, run.RequestID, l.APIID, l.APIName, boolInt(l.Success), l.StatusCode,
			l.RequestBody, l.ResponseBody, l.Error, l.DurationMs, l.CalledAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert api call log %s: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

// GetEvaluationRun returns the latest run recorded for a request id.
func (r *SQLRepository) GetEvaluationRun(ctx context.Context, tenantID int64, requestID string) (*domain.EvaluationRun, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, request_id, customer_score, inputs,
		       eligible_products, non_eligible_products, duration_ms, created_at
		FROM evaluation_runs
		WHERE tenant_id = ? AND request_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var run domain.EvaluationRun
	var score sql.NullFloat64
	var inputs, eligible, nonEligible string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, requestID).Scan(
		&run.ID, &run.TenantID, &run.RequestID, &score, &inputs,
		&eligible, &nonEligible, &run.DurationMs, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if score.Valid {
		run.CustomerScore = &score.Float64
	}
	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(eligible), &run.EligibleProducts); err != nil {
		return nil, fmt.Errorf("decode eligible products: %w", err)
	}
	if err := json.Unmarshal([]byte(nonEligible), &run.NonEligibleProducts); err != nil {
		return nil, fmt.Errorf("decode non-eligible products: %w", err)
	}
	return &run, nil
}

// ListAPICallLogs returns the call logs of one evaluation run in call order.
// Request ids may repeat across runs, so logs are keyed by run.
func (r *SQLRepository) ListAPICallLogs(ctx context.Context, tenantID int64, runID string) ([]domain.APICallLog, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	return queryRows(ctx, r, `
		SELECT id, run_id, tenant_id, request_id, api_id, api_name, success, status_code,
		       request_body, response_body, error, duration_ms, called_at
		FROM api_call_logs
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY called_at, id`,
		func(rows *sql.Rows) (domain.APICallLog, error) {
			var l domain.APICallLog
			var success int
			err := rows.Scan(&l.ID, &l.RunID, &l.TenantID, &l.RequestID, &l.APIID, &l.APIName, &success, &l.StatusCode,
				&l.RequestBody, &l.ResponseBody, &l.Error, &l.DurationMs, &l.CalledAt)
			l.Success = success == 1
			return l, err
		}, tenantID, runID)
}
