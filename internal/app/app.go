// Package app groups the fx modules shared by the billingcore binaries.
package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/billing"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/smallbiznis/billingcore/internal/invoice"
	"github.com/smallbiznis/billingcore/internal/ledger"
	"github.com/smallbiznis/billingcore/internal/lock"
	"github.com/smallbiznis/billingcore/internal/migration"
	"github.com/smallbiznis/billingcore/internal/notification"
	"github.com/smallbiznis/billingcore/internal/observability"
	"github.com/smallbiznis/billingcore/internal/payment"
	"github.com/smallbiznis/billingcore/internal/plan"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"github.com/smallbiznis/billingcore/internal/seed"
	"github.com/smallbiznis/billingcore/internal/subscription"
	"github.com/smallbiznis/billingcore/internal/tax"
	"github.com/smallbiznis/billingcore/internal/usage"
	"github.com/smallbiznis/billingcore/internal/webhook"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
)

// Core is the infrastructure every binary needs.
var Core = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	migration.Module,
	clock.Module,
	lock.Module,
	events.Module,
	scheduler.QueueModule,
)

// Domain wires the billing services.
var Domain = fx.Options(
	plan.Module,
	subscription.Module,
	usage.Module,
	tax.Module,
	ledger.Module,
	invoice.Module,
	payment.Module,
	webhook.Module,
	notification.Module,
	billing.Module,
	seed.Module,
)

// RegisterSnowflake builds the id generator for SNOWFLAKE_NODE. Every
// replica needs its own node id.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
