// Command apollo-gateway runs the multi-tenant chat completion gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apollohq/apollo-gateway/internal/app"

	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		host       string
		port       int
		migrate    bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.StringVar(&host, "host", "", "listen host override")
	flag.StringVar(&host, "H", "", "listen host override (shorthand)")
	flag.IntVar(&port, "port", 0, "listen port override")
	flag.IntVar(&port, "p", 0, "listen port override (shorthand)")
	flag.BoolVar(&migrate, "migrate", false, "run database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{ConfigPath: configPath, Host: host, Port: port}

	if migrate {
		if errMigrate := app.Migrate(ctx, opts); errMigrate != nil {
			fmt.Fprintln(os.Stderr, errMigrate)
			os.Exit(1)
		}
		return
	}

	if errRun := app.RunServer(ctx, opts); errRun != nil {
		log.WithError(errRun).Fatal("gateway exited")
	}
}
