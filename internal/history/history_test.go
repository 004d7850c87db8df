package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func seed(t *testing.T, repo domain.Repository, businessID, msisdn string, amount float64, transTime time.Time) *domain.Transaction {
	t.Helper()

	tx := &domain.Transaction{
		ID:            uuid.NewString(),
		BusinessID:    businessID,
		TransactionID: "RKT" + uuid.NewString()[:8],
		Type:          "Pay Bill",
		Amount:        amount,
		MSISDN:        msisdn,
		TransTime:     transTime,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
	return tx
}

func TestGatherEmptyHistory(t *testing.T) {
	repo := newTestRepo(t)
	agg := NewAggregator(repo, domain.DefaultScoringConfig())

	businessID := uuid.NewString()
	now := time.Now().UTC()
	tx := seed(t, repo, businessID, "254712345678", 1000, now)

	snap, err := agg.Gather(context.Background(), tx)
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}

	// The scored transaction is already stored, so the business has one
	// row but the customer has no prior history.
	if snap.Business.TotalTransactions != 1 {
		t.Errorf("expected 1 business transaction, got %d", snap.Business.TotalTransactions)
	}
	if snap.Business.StdDevAmount != nil {
		t.Error("expected no stddev with a single transaction")
	}
	if snap.Customer.LifetimeCount != 0 {
		t.Errorf("expected zero prior customer transactions, got %d", snap.Customer.LifetimeCount)
	}
	if snap.Customer.VelocityCount != 1 {
		t.Errorf("expected velocity 1 (current transaction), got %d", snap.Customer.VelocityCount)
	}
}

func TestGatherCounts(t *testing.T) {
	repo := newTestRepo(t)
	agg := NewAggregator(repo, domain.DefaultScoringConfig())

	businessID := uuid.NewString()
	now := time.Now().UTC()

	seed(t, repo, businessID, "254712345678", 5000, now.Add(-time.Hour))
	seed(t, repo, businessID, "254712345678", 750, now.Add(-3*time.Minute))
	seed(t, repo, businessID, "254712345678", 1000, now.Add(-time.Minute))
	current := seed(t, repo, businessID, "254712345678", 2000, now)

	snap, err := agg.Gather(context.Background(), current)
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}

	if snap.Customer.LifetimeCount != 3 {
		t.Errorf("expected lifetime 3, got %d", snap.Customer.LifetimeCount)
	}
	if snap.Customer.RoundNumberCount != 2 {
		t.Errorf("expected 2 round-number transactions, got %d", snap.Customer.RoundNumberCount)
	}
	if snap.Customer.VelocityCount != 3 {
		t.Errorf("expected 3 transactions in the 5 minute window, got %d", snap.Customer.VelocityCount)
	}
	if snap.Business.TotalTransactions != 4 {
		t.Errorf("expected 4 business transactions, got %d", snap.Business.TotalTransactions)
	}
}

func TestGatherPropagatesRepositoryFailure(t *testing.T) {
	repo := newTestRepo(t)
	agg := NewAggregator(repo, domain.DefaultScoringConfig())

	// Closing the repository forces every baseline query to fail.
	repo.Close()

	tx := &domain.Transaction{
		ID:         uuid.NewString(),
		BusinessID: uuid.NewString(),
		MSISDN:     "254712345678",
		TransTime:  time.Now().UTC(),
	}

	if _, err := agg.Gather(context.Background(), tx); err == nil {
		t.Fatal("expected error when repository is unavailable")
	}
}
