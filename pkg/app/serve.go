package app

import (
	"context"

	"github.com/zurustar/scorestream/pkg/cli"
	"github.com/zurustar/scorestream/pkg/server"
)

// Serve チャンネルごとのPCMをHTTPで配信する
// タイムアウトかシグナルでサーバを停止する
func (app *Application) Serve(ctx context.Context, cfg *cli.Config) error {
	ctx, cancel, err := app.start(ctx, cfg)
	if err != nil {
		return err
	}
	defer cancel()

	sc, err := app.openScore(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	srv := server.New(sc, server.Options{CORSOrigins: cfg.CORSOrigins, Logger: app.log})
	return app.finish(ctx, srv.ListenAndServe(ctx, cfg.Addr, nil))
}
