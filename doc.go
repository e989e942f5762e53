// Package stockpile provides a transactional resource ledger for Go
// applications.
//
// Stockpile is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Exact fractional accounting for bulk resources and whole counts for
//     discrete ones
//   - Nested transactions with lazy, per-participant rollback
//   - Tanks, bins and aggregates that route requests across member stores
//   - Change notification so replicas can mirror any store
//   - Snapshot persistence to memory, SQLite, PostgreSQL or MongoDB
//
// # Quick Start
//
// Create an engine with your preferred state repository:
//
//	import (
//	    "github.com/xraph/stockpile"
//	    "github.com/xraph/stockpile/state/memory"
//	)
//
//	e := stockpile.New(memory.New())
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// Articles name a resource. Bulk articles move in fractions, discrete ones
// in whole units:
//
//	water := stockpile.ArticleOf(stockpile.Bulk("water"))
//	stone := stockpile.ArticleOf(stockpile.Discrete("stone"))
//
// Stores hold articles and expose a Consumer (insert) and Supplier (extract)
// function:
//
//	t, _ := e.NewTank(ctx, stockpile.Whole(1000))
//	accepted := t.Consumer().Apply(ctx, water, 250, false)
//
// Transactions group operations across stores. Everything done through the
// returned context is undone by Rollback:
//
//	tx, txCtx := e.Open(ctx)
//	src.Supplier().Apply(txCtx, water, 100, false)
//	if dst.Consumer().Apply(txCtx, water, 100, false) < 100 {
//	    tx.Rollback()
//	} else {
//	    tx.Commit()
//	}
//
// Aggregates combine stores and prefer members that already hold an
// article:
//
//	g, _ := e.NewAggregate(ctx)
//	_ = g.AddMember(ctx, t)
//
// # Persistence
//
// Save and Restore move store contents through the repository. Track enables
// autosave: the engine batches changed stores and writes them in the
// background.
//
//	_ = e.Track(ctx, t)
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	stor_01h2xcejqtf2nbrexx3vqjhp41  // Store ID
//	agg_01h2xcejqtf2nbrexx3vqjhp41   // Aggregate ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package stockpile
