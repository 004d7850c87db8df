package scoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pesaguard/pesaguard/internal/bus"
	"github.com/pesaguard/pesaguard/internal/cache"
	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/history"
	"github.com/pesaguard/pesaguard/internal/repository"
)

func newTestService(t *testing.T, patterns ...*domain.FraudPattern) (*Service, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultScoringConfig()
	engine := newTestEngine(t, patterns...)

	c, err := cache.New(domain.CacheConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	b := bus.NewChannelBus(domain.EventBusConfig{})
	t.Cleanup(func() { b.Close() })

	svc := NewService(repo, c, b, history.NewAggregator(repo, cfg), engine, nil)
	return svc, repo
}

func storeTx(t *testing.T, repo domain.Repository, businessID, msisdn string, amount float64, transTime time.Time) *domain.Transaction {
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

func TestScoreTransactionPersistsAssessment(t *testing.T) {
	svc, repo := newTestService(t, pattern(domain.SignalRapidSuccession, 0.2))
	ctx := context.Background()

	businessID := uuid.NewString()
	now := time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC)

	storeTx(t, repo, businessID, "254712345678", 500, now.Add(-3*time.Minute))
	storeTx(t, repo, businessID, "254712345678", 600, now.Add(-2*time.Minute))
	storeTx(t, repo, businessID, "254712345678", 700, now.Add(-time.Minute))
	current := storeTx(t, repo, businessID, "254712345678", 800, now)

	a, err := svc.ScoreTransaction(ctx, current)
	if err != nil {
		t.Fatalf("failed to score: %v", err)
	}

	// 4 transactions in the window: 0.2 * 4/3.
	want := 0.2 * 4.0 / 3.0
	approx(t, a.Score, want, "score")

	stored, err := repo.GetAssessmentByTransaction(ctx, current.ID)
	if err != nil {
		t.Fatalf("assessment was not persisted: %v", err)
	}
	if stored.Score != a.Score {
		t.Errorf("stored score %v differs from returned %v", stored.Score, a.Score)
	}
}

func TestScoreTransactionPublishesEvents(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repoPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(domain.EventBusConfig{})
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	assessments := make(chan *domain.Message, 1)
	alerts := make(chan *domain.Message, 1)

	if _, err := b.Subscribe(ctx, domain.TopicAssessment, func(_ context.Context, msg *domain.Message) error {
		assessments <- msg
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if _, err := b.Subscribe(ctx, domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		alerts <- msg
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	cfg := domain.DefaultScoringConfig()
	engine := newTestEngine(t,
		pattern(domain.SignalRapidSuccession, 0.3),
		pattern(domain.SignalUnusualTime, 0.2),
	)
	svc := NewService(repo, nil, b, history.NewAggregator(repo, cfg), engine, nil)

	businessID := uuid.NewString()
	night := time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC)
	storeTx(t, repo, businessID, "254712345678", 500, night.Add(-2*time.Minute))
	storeTx(t, repo, businessID, "254712345678", 500, night.Add(-time.Minute))
	current := storeTx(t, repo, businessID, "254712345678", 500, night)

	a, err := svc.ScoreTransaction(ctx, current)
	if err != nil {
		t.Fatalf("failed to score: %v", err)
	}
	if !a.Flagged {
		t.Fatalf("expected flagged assessment, got score %v", a.Score)
	}

	select {
	case <-assessments:
	case <-time.After(time.Second):
		t.Fatal("assessment event was not published")
	}
	select {
	case <-alerts:
	case <-time.After(time.Second):
		t.Fatal("alert event was not published for flagged assessment")
	}
}

func TestScoreBatchIsolatesFailures(t *testing.T) {
	svc, repo := newTestService(t, pattern(domain.SignalUnusualTime, 0.1))
	ctx := context.Background()

	businessID := uuid.NewString()
	tx1 := storeTx(t, repo, businessID, "254712345678", 500, time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC))
	tx2 := storeTx(t, repo, businessID, "254712345678", 500, time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC))

	results := svc.ScoreBatch(ctx, []string{tx1.ID, "missing", tx2.ID})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	// Input order is preserved.
	if results[0].TransactionID != tx1.ID || results[2].TransactionID != tx2.ID {
		t.Error("batch results out of order")
	}
	if results[0].Err != nil || results[0].Assessment == nil {
		t.Errorf("expected success for tx1, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("expected failure for missing transaction")
	}
	if results[2].Err != nil || results[2].Assessment == nil {
		t.Errorf("expected success for tx2, got %v", results[2].Err)
	}
	approx(t, results[2].Assessment.Score, 0.1, "tx2 score")
}

func TestReviewRefreshesCache(t *testing.T) {
	svc, repo := newTestService(t, pattern(domain.SignalUnusualTime, 0.5))
	ctx := context.Background()

	businessID := uuid.NewString()
	current := storeTx(t, repo, businessID, "254712345678", 500, time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC))

	a, err := svc.ScoreTransaction(ctx, current)
	if err != nil {
		t.Fatalf("failed to score: %v", err)
	}

	// Warm read through the cache.
	cached, err := svc.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("failed to get assessment: %v", err)
	}
	if cached.Reviewed {
		t.Fatal("assessment should start unreviewed")
	}

	if _, err := svc.Review(ctx, a.ID, "analyst-1", "confirmed legitimate"); err != nil {
		t.Fatalf("failed to review: %v", err)
	}

	afterReview, err := svc.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("failed to get assessment after review: %v", err)
	}
	if !afterReview.Reviewed || afterReview.ReviewedBy != "analyst-1" {
		t.Errorf("cached assessment is stale after review: %+v", afterReview.ReviewState)
	}
}

func TestReviewNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Review(context.Background(), "missing", "analyst-1", "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryFailureFailsScoring(t *testing.T) {
	svc, repo := newTestService(t, pattern(domain.SignalUnusualTime, 0.1))

	tx := &domain.Transaction{
		ID:         uuid.NewString(),
		BusinessID: uuid.NewString(),
		MSISDN:     "254712345678",
		TransTime:  time.Now().UTC(),
	}

	repo.Close()

	if _, err := svc.ScoreTransaction(context.Background(), tx); err == nil {
		t.Fatal("expected scoring to fail when history is unavailable")
	}
}

func TestReloadPatterns(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	if err := repo.SavePattern(ctx, pattern(domain.SignalUnusualTime, 0.15)); err != nil {
		t.Fatalf("failed to save pattern: %v", err)
	}

	if err := svc.ReloadPatterns(ctx); err != nil {
		t.Fatalf("failed to reload patterns: %v", err)
	}

	builtin, _ := svc.Engine().PatternCount()
	if builtin != 1 {
		t.Errorf("expected 1 builtin pattern after reload, got %d", builtin)
	}
}
