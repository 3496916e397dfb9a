package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// DB returns the underlying database connection for direct queries.
func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	var o Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// GetForUpdate loads the order under a row lock. The order-level lock is the
// single serialization point between the return handler and the webhook
// processor; hold it only from resolve-target through apply-transition.
func GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (Order, error) {
	var o Order
	if err := LockForUpdate(tx).WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// LockForUpdate applies SELECT ... FOR UPDATE where the dialect supports it.
// sqlite (tests) serializes writers anyway and rejects the clause.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// SetPendingIntent records the remote intent id on the order. An existing
// different reference is overwritten only by the caller explicitly clearing
// it first; createIntent persists before returning so a crash between the
// remote create and the local write cannot lose the reference silently.
func SetPendingIntent(ctx context.Context, tx *gorm.DB, orderID, intentID string) error {
	return tx.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"pending_intent_id": intentID,
			"updated_at":        time.Now(),
		}).Error
}

// ClearPendingIntent drops the reference once a payment derived from the
// intent reached a terminal or capturable state.
func ClearPendingIntent(ctx context.Context, tx *gorm.DB, orderID string) error {
	return tx.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"pending_intent_id": nil,
			"updated_at":        time.Now(),
		}).Error
}

// EnsureFinancialEntry writes a ledger row at most once per
// (ref_type, ref_id, event).
func EnsureFinancialEntry(ctx context.Context, tx *gorm.DB, e FinancialEntry) error {
	var cnt int64
	if err := tx.WithContext(ctx).
		Model(&FinancialEntry{}).
		Where("ref_type = ? AND ref_id = ? AND event = ?", e.RefType, e.RefID, e.Event).
		Count(&cnt).Error; err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&e).Error
}

// AppendEvent writes an audit row for an operator action.
func AppendEvent(ctx context.Context, tx *gorm.DB, ev OrderEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return tx.WithContext(ctx).Create(&ev).Error
}
