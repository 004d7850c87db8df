// Package domain defines the core types and interfaces for PesaGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the persistence contract the engine and API need.
type Repository interface {
	// Business operations
	SaveBusiness(ctx context.Context, b *Business) error
	GetBusinessByShortCode(ctx context.Context, shortCode string) (*Business, error)

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, businessID string, limit, offset int) ([]*Transaction, error)

	// Pattern catalog operations
	SavePattern(ctx context.Context, p *FraudPattern) error
	ListPatterns(ctx context.Context, activeOnly bool) ([]*FraudPattern, error)

	// Assessment operations
	SaveAssessment(ctx context.Context, a *FraudAssessment) error
	GetAssessment(ctx context.Context, assessmentID string) (*FraudAssessment, error)
	GetAssessmentByTransaction(ctx context.Context, txID string) (*FraudAssessment, error)
	ListFlagged(ctx context.Context, businessID string, reviewed bool) ([]*FlaggedTransaction, error)
	ReviewAssessment(ctx context.Context, assessmentID, reviewedBy, notes string) (*FraudAssessment, error)
	FraudStats(ctx context.Context, businessID string) (*FraudStatistics, error)

	// Scoring inputs, recomputed per call (no caching)
	BusinessStatistics(ctx context.Context, businessID string) (*BusinessStatistics, error)
	CustomerStatistics(ctx context.Context, q CustomerStatsQuery) (*CustomerStatistics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
