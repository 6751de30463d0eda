// Package billingtest builds throwaway in-memory databases and helpers for
// service tests that span several billing components.
package billingtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the billing services touch.
func Models() []any {
	return []any{
		&plandomain.Plan{},
		&plandomain.PriceTier{},
		&plandomain.Feature{},
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageRecord{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.TaxLine{},
		&invoicedomain.PendingProration{},
		&ledgerdomain.CreditAdjustment{},
		&ledgerdomain.CustomerBalance{},
		&taxdomain.TaxRate{},
	}
}

type Env struct {
	DB      *gorm.DB
	Node    *snowflake.Node
	Clock   *clock.FakeClock
	Events  *events.Recorder
	Log     *zap.Logger
	Billing *config.BillingConfigHolder
}

// NewEnv opens a private shared-cache sqlite database named after the test
// and migrates extra models alongside Models.
func NewEnv(t testing.TB, now time.Time, extra ...any) *Env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(append(Models(), extra...)...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	return &Env{
		DB:      db,
		Node:    node,
		Clock:   clock.NewFakeClock(now),
		Events:  &events.Recorder{},
		Log:     zap.NewNop(),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	}
}

// SingleConnection caps the pool at one connection so concurrent callers
// queue for it instead of failing on shared-cache table locks. Callers must
// not use the root DB while holding a transaction.
func (e *Env) SingleConnection(t testing.TB) {
	t.Helper()
	sqlDB, err := e.DB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
}

// ExpirePeriod moves the subscription's period end to one minute before
// the fake clock so the rollover sweep picks it up.
func (e *Env) ExpirePeriod(ctx context.Context, subscriptionID snowflake.ID) error {
	now := e.Clock.Now()
	return e.DB.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		now.Add(-time.Minute),
		now,
		subscriptionID,
	).Error
}

// Subscription reloads a subscription row for assertions.
func (e *Env) Subscription(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	if err := e.DB.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
