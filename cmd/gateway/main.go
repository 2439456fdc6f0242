package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/mudnet/i3-gateway/internal/api"
	"github.com/mudnet/i3-gateway/internal/config"
	"github.com/mudnet/i3-gateway/internal/gateway"
	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	envPath := flag.String("env", ".env", "path to an optional dotenv file")
	flag.Parse()

	config.LoadDotenv(*envPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	m := metrics.New()
	gw, err := gateway.New(cfg, m)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)

	mgr := shutdown.NewManager(shutdown.DefaultConfig())
	srv := api.NewServer(cfg, gw, m).WithDrain(mgr)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("api: %v", err)
	}

	log.Printf("i3 gateway up as %q, router %s", cfg.Mud.Name, cfg.Router.Primary.Addr())

	mgr.RegisterCloser("api", srv.Shutdown)
	mgr.RegisterCloser("upstream", func(context.Context) error {
		cancel()
		return nil
	})
	// Stop disconnects the router sessions and writes the state snapshot.
	mgr.RegisterCleanup("snapshot", func(context.Context) error {
		return gw.Stop()
	})
	os.Exit(<-mgr.HandleSignals())
}
