package main

import (
	"github.com/smallbiznis/billingcore/internal/app"
	"github.com/smallbiznis/billingcore/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		app.Core,
		app.Domain,
		server.Module,
	).Run()
}
