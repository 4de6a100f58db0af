package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
)

var _ repository.CouponRepository = (*couponRepo)(nil)

type couponRepo struct{ pool *pgxpool.Pool }

func NewCouponRepo(pool *pgxpool.Pool) *couponRepo {
	return &couponRepo{pool: pool}
}

func (r *couponRepo) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	if c == nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO coupons (
  id, code, discount_type, discount_value, free_months, max_uses, current_uses, valid_from, valid_until, is_active, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (id) DO UPDATE SET
  code=$2, discount_type=$3, discount_value=$4, free_months=$5, max_uses=$6,
  valid_from=$8, valid_until=$9, is_active=$10;`
	_, err := execSQL(ctx, r.pool, tx, q,
		c.ID, model.NormalizeCouponCode(c.Code), string(c.DiscountType), c.DiscountValue, c.FreeMonths, c.MaxUses,
		c.CurrentUses, c.ValidFrom, c.ValidUntil, c.IsActive, c.CreatedAt)
	return mapWriteErr(err)
}

func (r *couponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	q := `
SELECT id, code, discount_type, discount_value, free_months, max_uses, current_uses, valid_from, valid_until, is_active, created_at
FROM coupons WHERE code=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizeCouponCode(code))
	if err != nil {
		return nil, err
	}

	var (
		c   model.Coupon
		typ string
	)
	if err := row.Scan(&c.ID, &c.Code, &typ, &c.DiscountValue, &c.FreeMonths, &c.MaxUses, &c.CurrentUses,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	c.DiscountType = model.DiscountType(typ)
	return &c, nil
}

func (r *couponRepo) HasUsage(ctx context.Context, tx repository.Tx, couponID, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id=$1 AND user_id=$2);`
	row, err := pickRow(ctx, r.pool, tx, q, couponID, userID)
	if err != nil {
		return false, err
	}
	var used bool
	if err := row.Scan(&used); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return used, nil
}

func (r *couponRepo) RecordUsage(ctx context.Context, tx repository.Tx, u *model.CouponUsage) (bool, error) {
	if u == nil {
		return false, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO coupon_usages (id, coupon_id, user_id, purchase_id, used_at)
VALUES ($1,$2,$3,$4,COALESCE($5, NOW()))
ON CONFLICT (coupon_id, user_id) DO NOTHING;`
	var usedAt interface{}
	if !u.UsedAt.IsZero() {
		usedAt = u.UsedAt
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, u.ID, u.CouponID, u.UserID, u.PurchaseID, usedAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *couponRepo) IncrementUses(ctx context.Context, tx repository.Tx, couponID string) error {
	const q = `UPDATE coupons SET current_uses = current_uses + 1 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, couponID)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
