package stockpile_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/state/memory"
	"github.com/xraph/stockpile/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from the package docs
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create repository (memory for demo, use PostgreSQL in production)
		repo := memory.New()

		// Initialize the engine
		e := stockpile.New(repo,
			stockpile.WithLogger(slog.Default()),
			stockpile.WithSaveConfig(64, 5*time.Second),
		)

		// Start the engine
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		water := stockpile.ArticleOf(stockpile.Bulk("water"))

		// Create two stores
		src, err := e.NewTank(ctx, stockpile.Whole(1000))
		if err != nil {
			t.Fatal(err)
		}
		dst, err := e.NewTank(ctx, stockpile.Whole(100))
		if err != nil {
			t.Fatal(err)
		}
		src.Consumer().Apply(ctx, water, 250, false)

		// Move 100 units atomically
		tx, txCtx := e.Open(ctx)
		src.Supplier().Apply(txCtx, water, 100, false)
		if dst.Consumer().Apply(txCtx, water, 100, false) < 100 {
			tx.Rollback()
		} else {
			tx.Commit()
		}

		if src.CountOf(water) != 150 || dst.CountOf(water) != 100 {
			t.Fatalf("transfer: src %d dst %d", src.CountOf(water), dst.CountOf(water))
		}

		// Aggregate both tanks
		g, err := e.NewAggregate(ctx)
		if err != nil {
			t.Fatal(err)
		}
		_ = g.AddMember(ctx, src)
		_ = g.AddMember(ctx, dst)
		log.Printf("Aggregate holds %s water\n", g.AmountOf(water))

		// Persist the tanks
		if err := e.Save(ctx, src, dst); err != nil {
			t.Fatal(err)
		}
		if err := e.Track(ctx, src); err != nil {
			t.Fatal(err)
		}
	})

	// Test Fraction type examples
	t.Run("FractionExamples", func(t *testing.T) {
		// Constructors
		_ = types.Whole(3)    // 3
		_ = types.Of(1, 1, 2) // 1 1/2
		_ = types.Ratio(3, 4) // 3/4

		// Arithmetic
		f1 := types.Ratio(1, 3)
		f2 := types.Ratio(1, 6)
		sum := f1.Add(f2)  // 1/2
		_ = f1.Multiply(3) // 1
		_ = types.Sum(f1, f2, types.One)

		if !sum.Equal(types.Ratio(1, 2)) {
			t.Errorf("sum: got %s", sum)
		}

		// Rounding to a unit divisor
		_ = types.Of(2, 2, 3).RoundDown(2) // 2 1/2
		_ = types.Of(2, 2, 3).ToLong(1)    // 2

		// Comparison
		if f2.LessThan(f1) {
			// f2 is less than f1
		}

		// Formatting
		_ = sum.String()   // "1/2"
		_ = sum.Decimal(2) // 0.50
	})
}
