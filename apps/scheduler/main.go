package main

import (
	"github.com/smallbiznis/billingcore/internal/app"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		app.Core,
		app.Domain,
		scheduler.Module,
	).Run()
}
