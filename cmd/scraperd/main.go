package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/configutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/cookiestore"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/serviceutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/sqliteutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/telemetry"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/realtime"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/scrapejobs"
)

func main() {
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Parse()
	telemetry.InitSlog(*verbose)

	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.Port == 0 {
		config.Port = 8400
	}
	if config.Database == "" {
		config.Database = "scraperd.db"
	}

	// runs fine without a telemetry.json5, spans just go nowhere
	t, err := telemetry.SetupFromEnv(ctx, "scraperd")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	db, err := sqliteutil.OpenDB(cookiestore.Schema, config.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	bus := events.NewBus()

	var notifier *challenges.Notifier
	if len(config.Challenge.Operators) > 0 {
		notifier = challenges.NewNotifier(config.Challenge.Smtp, config.Challenge.Operators)
	}
	broker := challenges.NewBroker(bus, challenges.Options{
		Timeout:  time.Duration(config.Challenge.TimeoutSeconds) * time.Second,
		Notifier: notifier,
	})

	creds := scrapejobs.StaticCredentials{}
	for accountId, c := range config.Accounts {
		creds[accountId] = portal.Credentials{Username: c.Username, Password: c.Password}
	}

	jobs := scrapejobs.NewService(
		cookiestore.NewStore(db), creds, broker, bus,
		scrapejobs.Options{Endpoints: config.Portal, Grid: config.Grid},
	)
	gateway := realtime.NewGateway(bus, broker)

	mux := http.NewServeMux()
	api{jobs: jobs, broker: broker, gateway: gateway}.register(mux)
	go serviceutil.StartHttpServer(config.Port, mux)

	<-ctx.Done()
}
