package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
)

var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

// FieldCipher seals sensitive columns at rest.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type purchaseRepo struct {
	pool   *pgxpool.Pool
	cipher FieldCipher
}

// NewPurchaseRepo builds the purchase repository. cipher may be nil, in which case
// the GST number is stored as given.
func NewPurchaseRepo(pool *pgxpool.Pool, cipher FieldCipher) *purchaseRepo {
	return &purchaseRepo{pool: pool, cipher: cipher}
}

const purchaseColumns = `id, user_id, total_amount, currency, payment_status, payment_method,
  gateway_order_id, gateway_payment_id, expires_at, coupon_code, coupon_discount,
  gst_number, cart_hash, created_at, updated_at, tax_rate`

func (r *purchaseRepo) Create(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	if p == nil || len(p.Items) == 0 {
		return domain.ErrInvalidArgument
	}
	gst, err := r.seal(p.GSTNumber)
	if err != nil {
		return domain.ErrOperationFailed
	}
	var discount decimal.NullDecimal
	if p.CouponDiscount != nil {
		discount = decimal.NullDecimal{Decimal: *p.CouponDiscount, Valid: true}
	}

	const q = `
INSERT INTO purchases (` + purchaseColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.TotalAmount, p.Currency, string(p.PaymentStatus), p.PaymentMethod,
		p.GatewayOrderID, p.GatewayPaymentID, p.ExpiresAt, p.CouponCode, discount,
		gst, p.CartHash, p.CreatedAt, p.UpdatedAt, p.TaxRate)
	if err != nil {
		return mapWriteErr(err)
	}

	const qi = `
INSERT INTO purchase_items (id, purchase_id, service_id, bundle_id, addon_id, item_name, item_price, billing_period, position)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	for _, it := range p.Items {
		var period *string
		if it.BillingPeriod != nil {
			s := string(*it.BillingPeriod)
			period = &s
		}
		if _, err := execSQL(ctx, r.pool, tx, qi,
			it.ID, p.ID, it.ServiceID, it.BundleID, it.AddonID, it.ItemName, it.ItemPrice, period, it.Position); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (r *purchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id=$1`
	return r.findOne(ctx, tx, q, id)
}

func (r *purchaseRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE gateway_order_id=$1`
	return r.findOne(ctx, tx, q, gatewayOrderID)
}

func (r *purchaseRepo) FindLiveByCartHash(ctx context.Context, tx repository.Tx, userID, cartHash string, now time.Time) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases
WHERE user_id=$1 AND cart_hash=$2 AND payment_status IN ('pending','processing') AND expires_at > $3
ORDER BY created_at DESC LIMIT 1`
	return r.findOne(ctx, tx, q, userID, cartHash, now)
}

func (r *purchaseRepo) findOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Purchase, error) {
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := r.scan(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *purchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Purchase, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, userID, limit)
}

func (r *purchaseRepo) ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + purchaseColumns + ` FROM purchases
WHERE payment_status='processing' AND gateway_order_id IS NOT NULL AND updated_at < $1
ORDER BY updated_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *purchaseRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	var out []*model.Purchase
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	// items are read after the cursor is closed; a tx carries one open query at a time
	for _, p := range out {
		if err := r.loadItems(ctx, tx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *purchaseRepo) loadItems(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	const q = `
SELECT id, purchase_id, service_id, bundle_id, addon_id, item_name, item_price, billing_period, position
FROM purchase_items WHERE purchase_id=$1 ORDER BY position ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, p.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	defer rows.Close()

	p.Items = p.Items[:0]
	for rows.Next() {
		var (
			it     model.PurchaseItem
			period *string
		)
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ServiceID, &it.BundleID, &it.AddonID,
			&it.ItemName, &it.ItemPrice, &period, &it.Position); err != nil {
			return domain.ErrReadDatabaseRow
		}
		if period != nil {
			bp := model.BillingPeriod(*period)
			it.BillingPeriod = &bp
		}
		p.Items = append(p.Items, it)
	}
	if rows.Err() != nil {
		return domain.ErrReadDatabaseRow
	}
	return nil
}

func (r *purchaseRepo) SetGatewayOrder(ctx context.Context, tx repository.Tx, id, gatewayOrderID string) error {
	const q = `UPDATE purchases SET gateway_order_id=$2, updated_at=NOW() WHERE id=$1 AND gateway_order_id IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, gatewayOrderID)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *purchaseRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, gatewayPaymentID, method *string) error {
	if !status.Valid() {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE purchases
   SET payment_status=$2,
       gateway_payment_id=COALESCE($3, gateway_payment_id),
       payment_method=COALESCE($4, payment_method),
       updated_at=NOW()
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status), gatewayPaymentID, method)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *purchaseRepo) CancelExpired(ctx context.Context, tx repository.Tx, userID string, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
UPDATE purchases SET payment_status='cancelled', updated_at=NOW()
 WHERE id IN (
   SELECT id FROM purchases
    WHERE payment_status='pending' AND expires_at <= $1
      AND ($2 = '' OR user_id = $2)
    ORDER BY expires_at ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED)
RETURNING id;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, userID, limit)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, mapWriteErr(rows.Err())
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *purchaseRepo) scan(row rowScanner) (*model.Purchase, error) {
	var (
		p        model.Purchase
		status   string
		discount decimal.NullDecimal
		gst      *string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.TotalAmount, &p.Currency, &status, &p.PaymentMethod,
		&p.GatewayOrderID, &p.GatewayPaymentID, &p.ExpiresAt, &p.CouponCode, &discount,
		&gst, &p.CartHash, &p.CreatedAt, &p.UpdatedAt, &p.TaxRate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.PaymentStatus = model.PaymentStatus(status)
	if discount.Valid {
		d := discount.Decimal
		p.CouponDiscount = &d
	}
	plain, err := r.open(gst)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.GSTNumber = plain
	return &p, nil
}

func (r *purchaseRepo) seal(v *string) (*string, error) {
	if v == nil || r.cipher == nil {
		return v, nil
	}
	ct, err := r.cipher.Encrypt(*v)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *purchaseRepo) open(v *string) (*string, error) {
	if v == nil || r.cipher == nil {
		return v, nil
	}
	pt, err := r.cipher.Decrypt(*v)
	if err != nil {
		return nil, err
	}
	return &pt, nil
}
