package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// CatalogRepository implements dispatch.CatalogRepository using Relica.
type CatalogRepository struct {
	store
}

// NewCatalogRepository creates a new CatalogRepository with default table prefix.
func NewCatalogRepository(sqlDB *sql.DB, driverName string) *CatalogRepository {
	return NewCatalogRepositoryWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewCatalogRepositoryWithPrefix creates a new CatalogRepository with custom table prefix.
func NewCatalogRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *CatalogRepository {
	return &CatalogRepository{store: newStore(sqlDB, driverName, prefix)}
}

func (r *CatalogRepository) tableName() string {
	return r.table("product_state")
}

// LoadSnapshot retrieves the stored state of a product (variantID 0) or variant.
func (r *CatalogRepository) LoadSnapshot(ctx context.Context, productID, variantID int64) (model.ProductSnapshot, error) {
	var snapshot model.ProductSnapshot

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("product_id = ? AND variant_id = ?", productID, variantID).
		WithContext(ctx).
		One(&snapshot)

	if errors.Is(err, sql.ErrNoRows) {
		return snapshot, dispatch.ErrNotFound
	}
	if err != nil {
		return snapshot, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load product snapshot", err)
	}

	return snapshot, nil
}

// SaveSnapshot upserts the change. A nil price or stock keeps the stored value.
// price_changed_at follows every reported price; restocked_at moves only when
// the stored stock goes from <= 0 (or unknown) to > 0, decided inside the
// statement so concurrent duplicate restocks stamp it once.
func (r *CatalogRepository) SaveSnapshot(ctx context.Context, change model.ProductChange, now time.Time) error {
	now = now.UTC()

	var price, stock, priceChangedAt, restockedAt interface{}
	if change.NewPrice != nil {
		price = change.NewPrice.String()
		priceChangedAt = now
	}
	if change.NewStock != nil {
		stock = *change.NewStock
		if *change.NewStock > 0 {
			restockedAt = now
		}
	}

	_, err := r.exec(ctx, r.upsertSQL(),
		change.ProductID, change.VariantID, price, stock, priceChangedAt, restockedAt, now)
	if err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to save product snapshot", err)
	}
	return nil
}

func (r *CatalogRepository) upsertSQL() string {
	t := r.tableName()
	insert := fmt.Sprintf(`INSERT INTO %s (product_id, variant_id, price, stock, price_changed_at, restocked_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, t)

	// MySQL evaluates assignments left to right, so restocked_at reads the
	// old stock only while it comes first.
	if r.isMySQL() {
		return insert + ` ON DUPLICATE KEY UPDATE
  restocked_at = IF(VALUES(stock) > 0 AND COALESCE(stock, 0) <= 0, VALUES(updated_at), restocked_at),
  price = COALESCE(VALUES(price), price),
  stock = COALESCE(VALUES(stock), stock),
  price_changed_at = COALESCE(VALUES(price_changed_at), price_changed_at),
  updated_at = VALUES(updated_at)`
	}

	// postgres and sqlite3
	return insert + fmt.Sprintf(` ON CONFLICT (product_id, variant_id) DO UPDATE SET
  restocked_at = CASE WHEN excluded.stock > 0 AND COALESCE(%[1]s.stock, 0) <= 0
    THEN excluded.updated_at ELSE %[1]s.restocked_at END,
  price = COALESCE(excluded.price, %[1]s.price),
  stock = COALESCE(excluded.stock, %[1]s.stock),
  price_changed_at = COALESCE(excluded.price_changed_at, %[1]s.price_changed_at),
  updated_at = excluded.updated_at`, t)
}

// VariantBelongsTo reports whether a state row exists for the variant of the product.
func (r *CatalogRepository) VariantBelongsTo(ctx context.Context, productID, variantID int64) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).Select("COUNT(*)").
		From(r.tableName()).
		Where("product_id = ? AND variant_id = ?", productID, variantID).
		One(&count)

	if err != nil {
		return false, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to check variant", err)
	}

	return count > 0, nil
}
