package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/app"
	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/chat"
	"github.com/lobbybee/frontdesk/internal/config"
	"github.com/lobbybee/frontdesk/internal/console"
	"github.com/lobbybee/frontdesk/internal/lock"
	"github.com/lobbybee/frontdesk/internal/notify"
	"github.com/lobbybee/frontdesk/internal/profile"
	"github.com/lobbybee/frontdesk/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", profile.ConfigPath(), "config file path")
	apiFlag := flag.String("api-url", "", "REST API base URL")
	wsFlag := flag.String("ws-url", "", "chat WebSocket URL")
	verbose := flag.Bool("v", false, "also log to stderr")
	flag.Parse()

	cfg, err := config.Load(*configFlag, profile.EnvPath(), ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *apiFlag != "" {
		cfg.APIURL = *apiFlag
	}
	if *wsFlag != "" {
		cfg.WSURL = *wsFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	profileName := profile.Resolve(*profileFlag, cfg.DefaultProfile)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var logSink io.Writer
	if *verbose {
		logSink = os.Stderr
	}

	fxApp := fx.New(
		app.Module(app.Params{Profile: profileName, Config: cfg, Console: logSink}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(runConsole),
	)
	if err := fxApp.Err(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: profile %q is already open (PID %d)\n", profileName, held.PID)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	fxApp.Run()
}

// runConsole drives the interactive console for the lifetime of the app and
// shuts the app down when the user quits.
func runConsole(lc fx.Lifecycle, sd fx.Shutdowner, st *chat.Store, center *notify.Center, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	c := console.New(st, center, db, b, os.Stdout, logger.Named("console"))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := c.Run(ctx, os.Stdin); err != nil {
					logger.Error("console input error", zap.Error(err))
				}
				if err := sd.Shutdown(); err != nil {
					logger.Warn("shutdown request failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
