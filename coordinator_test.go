package dispatch

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
	"github.com/coregx/dispatch/retry"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *memStore
	notifier *recordingNotifier
	clock    *fixedClock
	coord    *Coordinator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		clock:    &fixedClock{now: testEpoch},
	}

	base := []Option{
		WithAlertRepositories(h.store, h.store),
		WithReviewRepository(jobStore{h.store}),
		WithNotifier(h.notifier),
		WithContactResolver(staticContacts{}),
		WithLogger(&NoopLogger{}),
		WithClock(h.clock.Now),
		WithRetryStrategy(retry.NoRetry()),
	}

	coord, err := NewCoordinator(append(base, opts...)...)
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *harness) seedPrice(t *testing.T, productID int64, price string) {
	t.Helper()
	p := decimal.RequireFromString(price)
	require.NoError(t, h.store.SaveSnapshot(context.Background(), model.ProductChange{ProductID: productID, NewPrice: &p}, testEpoch))
}

func (h *harness) seedStock(t *testing.T, productID, variantID, stock int64) {
	t.Helper()
	require.NoError(t, h.store.SaveSnapshot(context.Background(),
		model.ProductChange{ProductID: productID, VariantID: variantID, NewStock: &stock}, testEpoch))
}

func (h *harness) addAlert(t *testing.T, a model.Alert) model.Alert {
	t.Helper()
	a = a.WithToken(uuid.NewString())
	a.CreatedAt = h.clock.Now()
	saved, err := h.store.Save(context.Background(), a)
	require.NoError(t, err)
	return saved
}

func (h *harness) alert(t *testing.T, id int64) model.Alert {
	t.Helper()
	a, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return a
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func stock(n int64) *int64 { return &n }

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(WithNotifier(&recordingNotifier{}), WithLogger(&NoopLogger{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeConfiguration)

	_, err = NewCoordinator(WithReviewRepository(jobStore{newMemStore()}), WithLogger(&NoopLogger{}))
	require.Error(t, err)

	_, err = NewCoordinator(WithReviewRepository(jobStore{newMemStore()}), WithNotifier(&recordingNotifier{}))
	require.Error(t, err)

	_, err = NewCoordinator(
		WithReviewRepository(jobStore{newMemStore()}),
		WithNotifier(&recordingNotifier{}),
		WithLogger(&NoopLogger{}),
		WithSendTimeout(-time.Second),
	)
	require.Error(t, err)
}

func TestCoordinator_DisabledTriggers(t *testing.T) {
	coord, err := NewCoordinator(
		WithReviewRepository(jobStore{newMemStore()}),
		WithNotifier(&recordingNotifier{}),
		WithLogger(&NoopLogger{}),
	)
	require.NoError(t, err)

	_, err = coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 1, NewStock: stock(1)})
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = coord.DispatchAlerts(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestProductChanged_PriceDropSendsOnce(t *testing.T) {
	h := newHarness(t)
	h.seedPrice(t, 7, "60.00")
	a := h.addAlert(t, model.NewPriceAlert(7, decimal.RequireFromString("50"), model.ChannelEmail).ForUser(42))

	result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 7, NewPrice: price("45.00")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Sent)

	sent := h.notifier.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "user42@example.com", sent[0].Destination)
	assert.Equal(t, model.TemplatePriceDrop, sent[0].TemplateID)
	assert.Equal(t, "45", sent[0].TemplateData["price"])
	assert.Equal(t, "50", sent[0].TemplateData["threshold"])
	assert.Equal(t, a.UnsubToken, sent[0].TemplateData["unsubToken"])

	stored := h.alert(t, a.ID)
	assert.False(t, stored.IsPending())
	assert.Equal(t, testEpoch, stored.NotifiedAt.Time)

	// Further drops find nothing: the alert is dormant.
	result, err = h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 7, NewPrice: price("40.00")})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Len(t, h.notifier.payloads(), 1)
}

func TestProductChanged_PriceAboveThreshold(t *testing.T) {
	h := newHarness(t)
	a := h.addAlert(t, model.NewPriceAlert(7, decimal.RequireFromString("50"), model.ChannelEmail).ForUser(42))

	result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 7, NewPrice: price("50.01")})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.True(t, h.alert(t, a.ID).IsPending())

	// Equal to the threshold satisfies it.
	result, err = h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 7, NewPrice: price("50")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestProductChanged_DuplicateRestockEventsSendOnce(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 9, 0, 0)
	a := h.addAlert(t, model.NewStockAlert(9, model.ChannelEmail).ForContact("shopper@example.com"))

	const events = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total BatchResult
	)
	start := make(chan struct{})
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 9, NewStock: stock(5)})
			assert.NoError(t, err)
			mu.Lock()
			total.Add(result)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, h.notifier.payloads(), 1)
	assert.Equal(t, 1, total.Sent)
	assert.Equal(t, 1, total.Claimed)
	assert.Equal(t, total.Candidates-1, total.SkippedRaced)
	assert.False(t, h.alert(t, a.ID).IsPending())
}

func TestProductChanged_RestockOnlyOnTransition(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 9, 0, 3)
	a := h.addAlert(t, model.NewStockAlert(9, model.ChannelEmail).ForUser(5))

	// 3 -> 8 is not a restock.
	result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 9, NewStock: stock(8)})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)

	_, err = h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 9, NewStock: stock(0)})
	require.NoError(t, err)
	assert.True(t, h.alert(t, a.ID).IsPending())

	result, err = h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 9, NewStock: stock(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestProductChanged_UnknownPreviousStockCountsAsZero(t *testing.T) {
	h := newHarness(t)
	h.addAlert(t, model.NewStockAlert(11, model.ChannelEmail).ForUser(5))

	result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 11, NewStock: stock(2)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestProductChanged_VariantScoping(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 3, 0, 0)
	h.seedStock(t, 3, 31, 0)
	h.seedStock(t, 3, 32, 0)

	productLevel := h.addAlert(t, model.NewStockAlert(3, model.ChannelEmail).ForUser(1))
	variant31 := h.addAlert(t, model.NewStockAlert(3, model.ChannelEmail).ForVariant(31).ForUser(2))
	variant32 := h.addAlert(t, model.NewStockAlert(3, model.ChannelEmail).ForVariant(32).ForUser(3))

	result, err := h.coord.ProductChanged(context.Background(), model.ProductChange{ProductID: 3, VariantID: 31, NewStock: stock(4)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)

	assert.False(t, h.alert(t, productLevel.ID).IsPending())
	assert.False(t, h.alert(t, variant31.ID).IsPending())
	assert.True(t, h.alert(t, variant32.ID).IsPending())
}

func TestProductChanged_VariantPriceAlertNeedsVariantPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedStock(t, 4, 41, 1)
	a := h.addAlert(t, model.NewPriceAlert(4, decimal.RequireFromString("20"), model.ChannelEmail).ForVariant(41).ForUser(1))

	result, err := h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 4, NewPrice: price("10")})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates, "product-level price does not reach variant alerts")
	assert.True(t, h.alert(t, a.ID).IsPending())

	result, err = h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 4, VariantID: 41, NewPrice: price("10")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestProductChanged_InvalidChange(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		change model.ProductChange
	}{
		{"missing product", model.ProductChange{NewStock: stock(1)}},
		{"negative variant", model.ProductChange{ProductID: 1, VariantID: -1, NewStock: stock(1)}},
		{"empty", model.ProductChange{ProductID: 1}},
		{"negative price", model.ProductChange{ProductID: 1, NewPrice: price("-1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.coord.ProductChanged(context.Background(), tt.change)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestProductsChanged_AccumulatesAndSkipsInvalid(t *testing.T) {
	h := newHarness(t)
	h.addAlert(t, model.NewStockAlert(1, model.ChannelEmail).ForUser(1))
	h.addAlert(t, model.NewStockAlert(2, model.ChannelEmail).ForUser(2))

	result := h.coord.ProductsChanged(context.Background(), []model.ProductChange{
		{ProductID: 1, NewStock: stock(1)},
		{ProductID: 0, NewStock: stock(1)},
		{ProductID: 2, NewStock: stock(1)},
	})
	assert.Equal(t, 2, result.Sent)
}

func TestDispatchAlerts_ConcurrentBatchesSendEachAlertOnce(t *testing.T) {
	h := newHarness(t, WithPool(NewPool(4)))
	h.seedStock(t, 5, 0, 10)

	var alerts []model.Alert
	for i := int64(1); i <= 25; i++ {
		alerts = append(alerts, h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(i)))
	}

	const batches = 12
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total BatchResult
	)
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.coord.DispatchAlerts(context.Background(), alerts)
			assert.NoError(t, err)
			mu.Lock()
			total.Add(result)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, batches*len(alerts), total.Candidates)
	assert.Equal(t, len(alerts), total.Sent)
	assert.Equal(t, (batches-1)*len(alerts), total.SkippedRaced)

	perDestination := make(map[string]int)
	for _, p := range h.notifier.payloads() {
		perDestination[p.Destination]++
	}
	assert.Len(t, perDestination, len(alerts))
	for dest, n := range perDestination {
		assert.Equal(t, 1, n, dest)
	}
}

func TestDispatchAlerts_SendFailureKeepsClaim(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = errSMTPDown
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.FailedTransport)
	assert.Zero(t, result.Sent)
	assert.False(t, h.alert(t, a.ID).IsPending())

	h.notifier.fail = nil
	result, err = h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedRaced)
	assert.Empty(t, h.notifier.payloads())
}

func TestDispatchAlerts_MalformedCandidateIsNeverClaimed(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 5, 0, 1)
	// staticContacts has no phone numbers.
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelSMS).ForUser(1))

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedValidation)
	assert.Zero(t, h.store.claimCalls.Load())
	assert.True(t, h.alert(t, a.ID).IsPending())
}

func TestDispatchAlerts_StaleTrigger(t *testing.T) {
	h := newHarness(t)
	h.seedPrice(t, 7, "80")
	a := h.addAlert(t, model.NewPriceAlert(7, decimal.RequireFromString("50"), model.ChannelEmail).ForUser(1))

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedStale)
	assert.True(t, h.alert(t, a.ID).IsPending())
	assert.Empty(t, h.notifier.payloads())
}

func TestDispatchAlerts_DeletedBeforeClaim(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	require.NoError(t, h.store.Delete(context.Background(), a.ID))

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedStale)
	assert.Empty(t, h.notifier.payloads())
}

func TestDispatchAlerts_StorageFailure(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	h.store.claimErr = NewError(ErrCodeDatabase, "connection reset")

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedStorage)
	assert.Empty(t, h.notifier.payloads())
}

func TestDispatchAlerts_ClaimRetriedOnStorageError(t *testing.T) {
	h := newHarness(t, WithRetryStrategy(retry.Strategy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        time.Millisecond,
		ExponentialBase: 1,
	}))
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	h.store.claimErr = NewError(ErrCodeDatabase, "deadlock detected")

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedStorage)
	assert.Equal(t, int64(3), h.store.claimCalls.Load())
}

func TestDispatchAlerts_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	b := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.coord.DispatchAlerts(ctx, []model.Alert{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cancelled)
	assert.Zero(t, h.store.claimCalls.Load())
	assert.True(t, h.alert(t, a.ID).IsPending())
	assert.True(t, h.alert(t, b.ID).IsPending())
}

func TestDispatchAlerts_ClaimedCandidateSentAfterCancel(t *testing.T) {
	h := newHarness(t, WithPool(NewPool(1)))
	h.notifier.started = make(chan struct{}, 1)
	h.notifier.release = make(chan struct{})
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	b := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan BatchResult, 1)
	go func() {
		result, _ := h.coord.DispatchAlerts(ctx, []model.Alert{a, b})
		done <- result
	}()

	<-h.notifier.started
	cancel()
	close(h.notifier.release)

	result := <-done
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Cancelled)
	assert.False(t, h.alert(t, a.ID).IsPending())
	assert.True(t, h.alert(t, b.ID).IsPending())
}

func TestDispatchAlerts_SendTimeoutIsTransportFailure(t *testing.T) {
	h := newHarness(t, WithSendTimeout(10*time.Millisecond))
	h.notifier.release = make(chan struct{})
	h.seedStock(t, 5, 0, 1)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))

	result, err := h.coord.DispatchAlerts(context.Background(), []model.Alert{a})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedTransport)
	assert.False(t, h.alert(t, a.ID).IsPending())
}

func TestReviewSweep_SendsAfterGracePeriodOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{
		OrderID:     1001,
		DeliveredAt: testEpoch,
		Email:       "buyer@example.com",
	}))

	h.clock.Advance(71 * time.Hour)
	result, err := h.coord.RunReviewSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)

	h.clock.Advance(time.Hour)
	result, err = h.coord.RunReviewSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	sent := h.notifier.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "buyer@example.com", sent[0].Destination)
	assert.Equal(t, model.TemplateReviewRequest, sent[0].TemplateID)
	assert.Equal(t, int64(1001), sent[0].TemplateData["orderID"])

	result, err = h.coord.RunReviewSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Len(t, h.notifier.payloads(), 1)
}

func TestReviewSweep_OverlappingSweepsSendOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for order := int64(1); order <= 10; order++ {
		require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: order, DeliveredAt: testEpoch, UserID: order}))
	}
	h.clock.Advance(model.DefaultReviewGracePeriod)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.RunReviewSweep(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.notifier.payloads(), 10)
}

func TestDispatchReviewJobs_NotYetDueIsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 5, DeliveredAt: testEpoch, UserID: 9}))
	job, err := jobStore{h.store}.Load(ctx, 5)
	require.NoError(t, err)

	result, err := h.coord.DispatchReviewJobs(ctx, []model.ReviewJob{job})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedStale)
	assert.Empty(t, h.notifier.payloads())
}

func TestOrderDelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	jobs := jobStore{h.store}

	t.Run("requires exactly one contact", func(t *testing.T) {
		err := h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 1, DeliveredAt: testEpoch})
		assert.True(t, IsValidation(err))

		err = h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 1, DeliveredAt: testEpoch, UserID: 1, Email: "a@example.com"})
		assert.True(t, IsValidation(err))
	})

	t.Run("redelivery moves the anchor", func(t *testing.T) {
		require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 2, DeliveredAt: testEpoch, UserID: 1}))
		later := testEpoch.Add(24 * time.Hour)
		require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 2, DeliveredAt: later, UserID: 1}))

		job, err := jobs.Load(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, later, job.DeliveredAt)
	})

	t.Run("sent job is left untouched", func(t *testing.T) {
		require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 3, DeliveredAt: testEpoch, UserID: 1}))
		_, err := jobs.Claim(ctx, 3, testEpoch, testEpoch)
		require.NoError(t, err)

		require.NoError(t, h.coord.OrderDelivered(ctx, ReviewRequest{OrderID: 3, DeliveredAt: testEpoch.Add(time.Hour), UserID: 1}))
		job, err := jobs.Load(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, testEpoch, job.DeliveredAt)
		assert.True(t, job.IsSent())
	})
}

func TestBatchResult_AddAndString(t *testing.T) {
	r := BatchResult{Candidates: 2, Sent: 1, SkippedRaced: 1}
	r.Add(BatchResult{Candidates: 3, Claimed: 2, FailedTransport: 1, Cancelled: 1, Deferred: 2})

	assert.Equal(t, 5, r.Candidates)
	assert.Equal(t, 2, r.Claimed)
	assert.Equal(t, 1, r.Sent)
	assert.Equal(t, 1, r.FailedTransport)
	assert.Equal(t, 1, r.Cancelled)
	assert.Contains(t, r.String(), "candidates=5")
	assert.Contains(t, r.String(), "cancelled=1")
	assert.Equal(t, 2, r.Deferred)
	assert.Contains(t, r.String(), "deferred=2")
}

func TestProductChanged_PagesThroughLargeFanOut(t *testing.T) {
	h := newHarness(t, WithBatchSize(2))
	ctx := context.Background()
	h.seedStock(t, 9, 0, 0)
	for i := int64(1); i <= 5; i++ {
		h.addAlert(t, model.NewStockAlert(9, model.ChannelEmail).ForContact("fan"+strconv.FormatInt(i, 10)+"@example.com"))
	}

	result, err := h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 9, NewStock: stock(10)})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Candidates)
	assert.Equal(t, 5, result.Sent)

	result, err = h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 9, NewStock: stock(12)})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Len(t, h.notifier.payloads(), 5)
}

func TestRunAlertSweep_PicksUpAlertsOfAnInterruptedRestock(t *testing.T) {
	h := newHarness(t, WithBatchSize(2))
	h.seedStock(t, 9, 0, 0)
	var ids []int64
	for i := int64(1); i <= 5; i++ {
		a := h.addAlert(t, model.NewStockAlert(9, model.ChannelEmail).ForContact("fan"+strconv.FormatInt(i, 10)+"@example.com"))
		ids = append(ids, a.ID)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := h.coord.ProductChanged(cancelled, model.ProductChange{ProductID: 9, NewStock: stock(10)})
	require.NoError(t, err)
	assert.Zero(t, result.Sent)

	// Not a transition: nothing is selected by the change itself.
	ctx := context.Background()
	result, err = h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 9, NewStock: stock(12)})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)

	h.clock.Advance(time.Hour)
	late := h.addAlert(t, model.NewStockAlert(9, model.ChannelEmail).ForContact("late@example.com"))

	result, err = h.coord.RunAlertSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Candidates)
	assert.Equal(t, 5, result.Sent)
	for _, id := range ids {
		assert.False(t, h.alert(t, id).IsPending(), "alert %d", id)
	}
	assert.True(t, h.alert(t, late.ID).IsPending(), "subscribed after the restock")

	result, err = h.coord.RunAlertSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Len(t, h.notifier.payloads(), 5)
}

func TestRunAlertSweep_PriceAlertsNeedAReportAfterSubscribing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPrice(t, 7, "40.00")

	h.clock.Advance(time.Minute)
	a := h.addAlert(t, model.NewPriceAlert(7, decimal.RequireFromString("50"), model.ChannelEmail).ForUser(1))

	result, err := h.coord.RunAlertSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.True(t, h.alert(t, a.ID).IsPending())
}

func TestRunAlertSweep_Disabled(t *testing.T) {
	coord, err := NewCoordinator(
		WithReviewRepository(jobStore{newMemStore()}),
		WithNotifier(&recordingNotifier{}),
		WithLogger(&NoopLogger{}),
	)
	require.NoError(t, err)

	_, err = coord.RunAlertSweep(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestDispatchAlerts_UnavailableNotifierDefersWithoutClaiming(t *testing.T) {
	gate := &gatedNotifier{}
	h := newHarness(t)
	h.coord.notifier = gate
	ctx := context.Background()

	h.seedStock(t, 5, 0, 0)
	a := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(1))
	b := h.addAlert(t, model.NewStockAlert(5, model.ChannelEmail).ForUser(2))

	result, err := h.coord.ProductChanged(ctx, model.ProductChange{ProductID: 5, NewStock: stock(3)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Candidates)
	assert.Equal(t, 2, result.Deferred)
	assert.Zero(t, result.Claimed)
	assert.Zero(t, h.store.claimCalls.Load())
	assert.True(t, h.alert(t, a.ID).IsPending())
	assert.True(t, h.alert(t, b.ID).IsPending())

	gate.ready.Store(true)
	result, err = h.coord.RunAlertSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Len(t, gate.payloads(), 2)
}
