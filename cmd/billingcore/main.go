package main

import (
	"github.com/smallbiznis/billingcore/internal/app"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"github.com/smallbiznis/billingcore/internal/server"
	"go.uber.org/fx"
)

// billingcore runs the HTTP api and the scheduler in one process.
func main() {
	fx.New(
		app.Core,
		app.Domain,
		server.Module,
		scheduler.Module,
	).Run()
}
