// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// DB exposes the underlying handle for direct aggregate queries.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBusiness stores a business.
func (r *SQLRepository) SaveBusiness(ctx context.Context, b *domain.Business) error {
	if b.ID == "" || b.ShortCode == "" {
		return fmt.Errorf("%w: business id and short code are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO businesses (id, name, short_code, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, b.Name, b.ShortCode, b.CreatedAt,
	)
	return err
}

// GetBusinessByShortCode looks up the business a paybill/till number
// belongs to.
func (r *SQLRepository) GetBusinessByShortCode(ctx context.Context, shortCode string) (*domain.Business, error) {
	if shortCode == "" {
		return nil, fmt.Errorf("%w: short code is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, short_code, created_at
		FROM businesses
		WHERE short_code = ?
	`

	var b domain.Business
	err := r.db.QueryRowContext(ctx, r.rebind(query), shortCode).Scan(
		&b.ID, &b.Name, &b.ShortCode, &b.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.BusinessID == "" {
		return fmt.Errorf("%w: transaction id and business id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, business_id, transaction_id, type, amount, short_code,
			bill_ref_number, invoice_number, org_account_balance,
			third_party_trans_id, msisdn, first_name, middle_name,
			last_name, trans_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.BusinessID, tx.TransactionID, tx.Type, tx.Amount, tx.ShortCode,
		tx.BillRefNumber, tx.InvoiceNumber, tx.OrgAccountBalance,
		tx.ThirdPartyTransID, tx.MSISDN, tx.FirstName, tx.MiddleName,
		tx.LastName, tx.TransTime, tx.CreatedAt,
	)
	return err
}

const transactionColumns = `id, business_id, transaction_id, type, amount, short_code,
	bill_ref_number, invoice_number, org_account_balance,
	third_party_trans_id, msisdn, first_name, middle_name,
	last_name, trans_time, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.BusinessID, &tx.TransactionID, &tx.Type, &tx.Amount, &tx.ShortCode,
		&tx.BillRefNumber, &tx.InvoiceNumber, &tx.OrgAccountBalance,
		&tx.ThirdPartyTransID, &tx.MSISDN, &tx.FirstName, &tx.MiddleName,
		&tx.LastName, &tx.TransTime, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by internal ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions retrieves transactions for a business, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, businessID string, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE business_id = ?
		ORDER BY trans_time DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SavePattern stores a fraud pattern, upserting on ID.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	if p.ID == "" || p.PatternType == "" {
		return fmt.Errorf("%w: pattern id and type are required", ErrInvalidInput)
	}

	active := 0
	if p.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_patterns (
			id, pattern_type, name, description, expression, weight, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pattern_type = excluded.pattern_type,
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, string(p.PatternType), p.Name, p.Description, p.Expression,
		p.Weight, active, now, now,
	)
	return err
}

// ListPatterns retrieves fraud patterns, optionally only active ones.
func (r *SQLRepository) ListPatterns(ctx context.Context, activeOnly bool) ([]*domain.FraudPattern, error) {
	query := `
		SELECT id, pattern_type, name, description, expression, weight, active, created_at, updated_at
		FROM fraud_patterns
	`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		var p domain.FraudPattern
		var patternType string
		var active int

		if err := rows.Scan(
			&p.ID, &patternType, &p.Name, &p.Description, &p.Expression,
			&p.Weight, &active, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.PatternType = domain.SignalType(patternType)
		p.Active = active == 1
		patterns = append(patterns, &p)
	}

	return patterns, rows.Err()
}

// SaveAssessment stores an assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.FraudAssessment) error {
	if a.ID == "" || a.TransactionID == "" {
		return fmt.Errorf("%w: assessment id and transaction id are required", ErrInvalidInput)
	}

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}

	flagged := 0
	if a.Flagged {
		flagged = 1
	}

	query := `
		INSERT INTO fraud_assessments (
			id, business_id, transaction_id, score, model_score, blended_score,
			risk_level, flagged, factors, assessed_at, reviewed, reviewed_by, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', '')
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.BusinessID, a.TransactionID, a.Score, a.ModelScore, a.BlendedScore,
		string(a.RiskLevel), flagged, string(factors), a.AssessedAt,
	)
	return err
}

const assessmentColumns = `id, business_id, transaction_id, score, model_score, blended_score,
	risk_level, flagged, factors, assessed_at, reviewed, reviewed_by, reviewed_at, notes`

func scanAssessment(row interface{ Scan(...any) error }) (*domain.FraudAssessment, error) {
	var a domain.FraudAssessment
	var riskLevel, factors string
	var flagged, reviewed int
	var reviewedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.BusinessID, &a.TransactionID, &a.Score, &a.ModelScore, &a.BlendedScore,
		&riskLevel, &flagged, &factors, &a.AssessedAt,
		&reviewed, &a.ReviewedBy, &reviewedAt, &a.Notes,
	)
	if err != nil {
		return nil, err
	}

	a.RiskLevel = domain.RiskLevel(riskLevel)
	a.Flagged = flagged == 1
	a.Reviewed = reviewed == 1
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	if factors != "" {
		if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
			return nil, fmt.Errorf("failed to parse risk factors: %w", err)
		}
	}

	return &a, nil
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.FraudAssessment, error) {
	if assessmentID == "" {
		return nil, fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	query := `SELECT ` + assessmentColumns + ` FROM fraud_assessments WHERE id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), assessmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAssessmentByTransaction retrieves the assessment for a transaction.
func (r *SQLRepository) GetAssessmentByTransaction(ctx context.Context, txID string) (*domain.FraudAssessment, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `SELECT ` + assessmentColumns + ` FROM fraud_assessments WHERE transaction_id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListFlagged retrieves flagged assessments joined with their
// transactions, highest score first. businessID may be empty to list
// across all businesses.
func (r *SQLRepository) ListFlagged(ctx context.Context, businessID string, reviewed bool) ([]*domain.FlaggedTransaction, error) {
	reviewedInt := 0
	if reviewed {
		reviewedInt = 1
	}

	query := `
		SELECT a.id, a.business_id, a.transaction_id, a.score, a.model_score, a.blended_score,
			a.risk_level, a.flagged, a.factors, a.assessed_at,
			a.reviewed, a.reviewed_by, a.reviewed_at, a.notes,
			t.id, t.business_id, t.transaction_id, t.type, t.amount, t.short_code,
			t.bill_ref_number, t.invoice_number, t.org_account_balance,
			t.third_party_trans_id, t.msisdn, t.first_name, t.middle_name,
			t.last_name, t.trans_time, t.created_at
		FROM fraud_assessments a
		JOIN transactions t ON t.id = a.transaction_id
		WHERE a.flagged = 1 AND a.reviewed = ?
	`
	args := []any{reviewedInt}
	if businessID != "" {
		query += ` AND t.business_id = ?`
		args = append(args, businessID)
	}
	query += ` ORDER BY a.score DESC, t.trans_time DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flagged []*domain.FlaggedTransaction
	for rows.Next() {
		var a domain.FraudAssessment
		var tx domain.Transaction
		var riskLevel, factors string
		var flaggedInt, reviewedScan int
		var reviewedAt sql.NullTime

		if err := rows.Scan(
			&a.ID, &a.BusinessID, &a.TransactionID, &a.Score, &a.ModelScore, &a.BlendedScore,
			&riskLevel, &flaggedInt, &factors, &a.AssessedAt,
			&reviewedScan, &a.ReviewedBy, &reviewedAt, &a.Notes,
			&tx.ID, &tx.BusinessID, &tx.TransactionID, &tx.Type, &tx.Amount, &tx.ShortCode,
			&tx.BillRefNumber, &tx.InvoiceNumber, &tx.OrgAccountBalance,
			&tx.ThirdPartyTransID, &tx.MSISDN, &tx.FirstName, &tx.MiddleName,
			&tx.LastName, &tx.TransTime, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.RiskLevel = domain.RiskLevel(riskLevel)
		a.Flagged = flaggedInt == 1
		a.Reviewed = reviewedScan == 1
		if reviewedAt.Valid {
			t := reviewedAt.Time
			a.ReviewedAt = &t
		}
		if factors != "" {
			if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
				return nil, fmt.Errorf("failed to parse risk factors for %s: %w", a.ID, err)
			}
		}

		flagged = append(flagged, &domain.FlaggedTransaction{
			Transaction: &tx,
			Assessment:  &a,
		})
	}

	return flagged, rows.Err()
}

// ReviewAssessment marks an assessment reviewed. Re-reviewing is
// allowed; the latest reviewer and notes win.
func (r *SQLRepository) ReviewAssessment(ctx context.Context, assessmentID, reviewedBy, notes string) (*domain.FraudAssessment, error) {
	if assessmentID == "" {
		return nil, fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	query := `
		UPDATE fraud_assessments
		SET reviewed = 1, reviewed_by = ?, reviewed_at = ?, notes = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		reviewedBy, time.Now().UTC(), notes, assessmentID,
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return r.GetAssessment(ctx, assessmentID)
}

// FraudStats aggregates assessment outcomes. businessID may be empty
// to aggregate across all businesses.
func (r *SQLRepository) FraudStats(ctx context.Context, businessID string) (*domain.FraudStatistics, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN flagged = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level IN ('high', 'critical') THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(score), 0),
			COALESCE(SUM(CASE WHEN flagged = 1 AND reviewed = 0 THEN 1 ELSE 0 END), 0)
		FROM fraud_assessments
	`
	var args []any
	if businessID != "" {
		query += ` WHERE business_id = ?`
		args = append(args, businessID)
	}

	var stats domain.FraudStatistics
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&stats.TotalAssessed, &stats.FlaggedCount, &stats.HighRiskCount,
		&stats.AvgScore, &stats.PendingReview,
	)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// BusinessStatistics recomputes the amount baseline over the full
// transaction history. Mean and sample standard deviation are derived
// from running sums so the query stays portable across SQLite and
// PostgreSQL (SQLite has no STDDEV).
func (r *SQLRepository) BusinessStatistics(ctx context.Context, businessID string) (*domain.BusinessStatistics, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(amount * amount), 0)
		FROM transactions
		WHERE business_id = ?
	`

	var count int64
	var sum, sumSq float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), businessID).Scan(&count, &sum, &sumSq)
	if err != nil {
		return nil, fmt.Errorf("failed to compute business statistics: %w", err)
	}

	stats := &domain.BusinessStatistics{
		BusinessID:        businessID,
		TotalTransactions: count,
	}

	if count > 0 {
		mean := sum / float64(count)
		stats.AvgAmount = &mean

		if count > 1 {
			variance := (sumSq - float64(count)*mean*mean) / float64(count-1)
			if variance < 0 {
				variance = 0
			}
			stddev := math.Sqrt(variance)
			stats.StdDevAmount = &stddev
		}
	}

	return stats, nil
}

// CustomerStatistics counts one customer's history with one business.
func (r *SQLRepository) CustomerStatistics(ctx context.Context, q domain.CustomerStatsQuery) (*domain.CustomerStatistics, error) {
	if q.BusinessID == "" || q.MSISDN == "" {
		return nil, fmt.Errorf("%w: business id and msisdn are required", ErrInvalidInput)
	}

	stats := &domain.CustomerStatistics{
		BusinessID: q.BusinessID,
		MSISDN:     q.MSISDN,
	}

	lifetime := `
		SELECT COUNT(*) FROM transactions
		WHERE business_id = ? AND msisdn = ? AND id <> ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(lifetime),
		q.BusinessID, q.MSISDN, q.ExcludeTxID,
	).Scan(&stats.LifetimeCount); err != nil {
		return nil, fmt.Errorf("failed to count customer transactions: %w", err)
	}

	if len(q.RoundAmounts) > 0 {
		placeholders := strings.Repeat("?, ", len(q.RoundAmounts)-1) + "?"
		round := `
			SELECT COUNT(*) FROM transactions
			WHERE business_id = ? AND msisdn = ? AND id <> ?
			  AND amount IN (` + placeholders + `)
		`
		args := []any{q.BusinessID, q.MSISDN, q.ExcludeTxID}
		for _, amount := range q.RoundAmounts {
			args = append(args, amount)
		}
		if err := r.db.QueryRowContext(ctx, r.rebind(round), args...).Scan(&stats.RoundNumberCount); err != nil {
			return nil, fmt.Errorf("failed to count round-number transactions: %w", err)
		}
	}

	if q.Window > 0 {
		now := q.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		since := now.Add(-q.Window)

		velocity := `
			SELECT COUNT(*) FROM transactions
			WHERE business_id = ? AND msisdn = ? AND trans_time >= ?
		`
		if err := r.db.QueryRowContext(ctx, r.rebind(velocity),
			q.BusinessID, q.MSISDN, since,
		).Scan(&stats.VelocityCount); err != nil {
			return nil, fmt.Errorf("failed to count recent transactions: %w", err)
		}
	}

	return stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
