package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/config"
	"tablio.com/tablio/pos/connection"
	"tablio.com/tablio/pos/dispatch"
	"tablio.com/tablio/pos/notify"
	"tablio.com/tablio/pos/store"
	"tablio.com/tablio/pos/syncer"
	posweb "tablio.com/tablio/pos/web"
	"tablio.com/tablio/tenant"
	"tablio.com/tablio/web/middlewares"
)

// possyncd runs the sync core as a sidecar for a POS terminal: it owns the
// durable store, probes connectivity, reconciles queued work and serves the
// status projection the register UI polls.
func main() {
	configPath := flag.String("config", "", "path to YAML config")
	listen := flag.String("listen", "127.0.0.1:8090", "status server address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.BaseURL == "" {
		log.Fatal("POS_BASE_URL is required")
	}

	st, err := store.Open(cfg.StorePath, store.Options{
		LogLevel:       store.LogLevelWarn,
		RetryThreshold: cfg.RetryThreshold,
		MenuTTL:        cfg.MenuTTL,
		TablesTTL:      cfg.TablesTTL,
		SettingsTTL:    cfg.SettingsTTL,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		log.Fatal(err)
	}

	tenantName := tenant.FromHost(cfg.Host, cfg.FallbackTenant)
	log.Printf("serving tenant %q against %s", tenantName, cfg.BaseURL)

	// The session token lives outside this core; read it per call so a
	// re-login on the terminal takes effect without a restart.
	client := v1.NewClient(cfg.BaseURL, tenantName, func() string {
		return os.Getenv("POS_SESSION_TOKEN")
	})

	monitor := connection.NewMonitor(cfg.BaseURL+cfg.ProbePath, connection.Options{
		ProbeInterval: cfg.ProbeInterval,
		ProbeTimeout:  cfg.ProbeTimeout,
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	var notifier syncer.Notifier
	if cfg.SlackToken != "" && cfg.SlackChannelID != "" {
		notifier = notify.NewSlack(cfg.SlackToken, cfg.SlackChannelID, tenantName)
	}

	reconciler := syncer.New(st, client, monitor, syncer.Options{
		Interval:    cfg.SyncInterval,
		QueueMaxAge: cfg.QueueMaxAge,
		Notifier:    notifier,
	})
	reconciler.Start(ctx, monitor)
	defer reconciler.Stop()

	dispatcher := dispatch.New(client.Transport, st, monitor)

	r := gin.Default()
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	group := r.Group("/api/pos/v1.0")
	if secret := os.Getenv("TABLIO_SIGNING_SECRET"); secret != "" {
		group.Use(middlewares.Authentication(secret))
	}
	posweb.Register(group, posweb.Deps{
		Store:      st,
		Monitor:    monitor,
		Reconciler: reconciler,
		Dispatcher: dispatcher,
	})

	if err := r.Run(*listen); err != nil {
		log.Fatal(err)
	}
}
