// Package dispatch sends threshold notifications and fulfillment follow-ups
// at most once: price-drop and back-in-stock alerts, and review requests a
// fixed delay after delivery.
//
// Works as a library embedded in a storefront backend, or as the standalone
// dispatch-server with a REST API and a scheduled review sweep.
//
// # Features
//
//   - At-most-once delivery per alert or review job through an atomic claim
//   - Claims re-verify the alert condition against the stored product state
//   - Bounded concurrent sends on a worker pool (default 32)
//   - Non-fatal outcomes are counted in BatchResult, never returned as errors
//   - Opaque, revocable unsubscribe tokens
//   - Pluggable Notifier, ContactResolver, Logger and Observer
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded goose migrations per dialect
//   - Prometheus metrics and a circuit breaker in front of the transport
//
// # Quick Start
//
// Apply the migrations and build the repositories:
//
//	db, _ := sql.Open("mysql", "user:pass@tcp(localhost:3306)/shop?parseTime=true")
//	if err := dispatch.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, "mysql")
//
// Create the coordinator with the Options Pattern:
//
//	coordinator, _ := dispatch.NewCoordinator(
//	    dispatch.WithAlertRepositories(repos.Alert, repos.Catalog),
//	    dispatch.WithReviewRepository(repos.ReviewJob),
//	    dispatch.WithNotifier(mailer),
//	    dispatch.WithContactResolver(profiles),
//	    dispatch.WithLogger(logger),
//	)
//
//	// Sweep due review requests and missed alerts every minute.
//	go coordinator.Run(ctx, time.Minute)
//
// Report catalog writes and deliveries:
//
//	result, err := coordinator.ProductChanged(ctx, model.ProductChange{
//	    ProductID: 42,
//	    NewStock:  &stock,
//	})
//
//	err = coordinator.OrderDelivered(ctx, dispatch.ReviewRequest{
//	    OrderID:     1001,
//	    DeliveredAt: time.Now(),
//	    UserID:      7,
//	})
//
// # Dispatch Flow
//
//  1. TRIGGER
//     ProductChanged → upsert snapshot → ThresholdEvaluator (paged by id)
//     RunReviewSweep → DueJobScanner (delivered_at <= now - grace)
//     RunAlertSweep  → pending alerts a stored report already satisfied
//
//  2. PER CANDIDATE (on the Pool)
//     render payload → notifier ready? (else deferred, unclaimed)
//     → claim (one conditional UPDATE)
//     → Claimed: Notifier.Send
//     → AlreadyClaimed / ConditionNoLongerMet: counted, nothing sent
//
//  3. RESULT
//     BatchResult counters, Observer.BatchCompleted
//
// The claim commits before the network call and is never reverted, so a
// failed send is not retried. Losing a duplicate is preferred to sending one
// twice.
//
// # Database Schema
//
//	dispatch_alert         - Price and stock alerts with unsubscribe tokens
//	dispatch_review_job    - One review request per delivered order
//	dispatch_product_state - Last known price and stock per product/variant
package dispatch
