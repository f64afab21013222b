package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/ssr"
	"github.com/guseggert/ssr/internal/files"
	"github.com/guseggert/ssr/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultWorker = "node_modules/ssr-rs/worker.js"

func main() {
	app := &cli.App{
		Name:  "ssrd",
		Usage: "serve pages rendered by a JavaScript renderer process",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "The port the renderer process listens on. 0 picks a free port.",
				Value:   9000,
				EnvVars: []string{"SSR_PORT"},
			},
			&cli.StringFlag{
				Name:    "worker",
				Usage:   fmt.Sprintf("Path to the renderer worker script. Defaults to the nearest %s.", defaultWorker),
				EnvVars: []string{"SSR_WORKER"},
			},
			&cli.StringFlag{
				Name:    "global-renderer",
				Usage:   "Path to the renderer module used when a request does not name one.",
				EnvVars: []string{"SSR_GLOBAL_RENDERER"},
			},
			&cli.StringFlag{
				Name:    "renderer",
				Usage:   "Render pages with this module instead of the global renderer.",
				EnvVars: []string{"SSR_RENDERER"},
			},
			&cli.StringFlag{
				Name:    "renderer-log",
				Usage:   "Logging of the renderer process. One of [quiet,verbose].",
				Value:   "quiet",
				EnvVars: []string{"SSR_RENDERER_LOG"},
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the HTTP server to listen on.",
				Value:   "127.0.0.1:3000",
				EnvVars: []string{"SSR_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level of the host. One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: []string{"SSR_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "Static JSON payload for every page. Defaults to the request's query parameters.",
			},
			&cli.DurationFlag{
				Name:  "render-timeout",
				Usage: "Upper bound for a single render, including connection retries. 0 means no bound.",
			},
		},
		Action: func(cctx *cli.Context) error {
			var level zapcore.Level
			err := level.UnmarshalText([]byte(cctx.String("log-level")))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logConfig := zap.NewProductionConfig()
			logConfig.Level = zap.NewAtomicLevelAt(level)
			logger, err := logConfig.Build()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			workerPath := cctx.String("worker")
			if workerPath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("getting working directory: %w", err)
				}
				workerPath, err = files.FindUp(defaultWorker, wd)
				if err != nil {
					return fmt.Errorf("finding renderer worker: %w", err)
				}
			}

			var data json.RawMessage
			if s := cctx.String("data"); s != "" {
				if !json.Valid([]byte(s)) {
					return errors.New("--data is not valid JSON")
				}
				data = json.RawMessage(s)
			}

			logLevel, err := ssr.ParseLogLevel(cctx.String("renderer-log"))
			if err != nil {
				return err
			}

			renderer, err := ssr.New(ssr.Config{
				Port:           cctx.Int("port"),
				WorkerPath:     workerPath,
				LogLevel:       logLevel,
				GlobalRenderer: cctx.String("global-renderer"),
			}, ssr.WithLogger(logger), ssr.WithRenderTimeout(cctx.Duration("render-timeout")))
			if err != nil {
				return err
			}
			defer func() {
				err := renderer.Close()
				if err != nil {
					logger.Sugar().Warnw("error stopping renderer", "error", err)
				}
			}()

			opts := []server.Option{
				server.WithListenAddr(cctx.String("listen-addr")),
				server.WithLogger(logger),
			}
			if data != nil {
				opts = append(opts, server.WithData(data))
			}
			if r := cctx.String("renderer"); r != "" {
				opts = append(opts, server.WithTarget(ssr.PerRequest(r)))
			}
			srv := server.New(renderer, opts...)

			go func() {
				<-cctx.Context.Done()
				srv.Stop()
			}()

			return srv.Run()
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
