/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command routerd runs the nsl-router control plane: identity
// registry, route store, cleanup controller, certificate authority and
// the REST API in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/auth"
	"github.com/nsl-labs/router/lib/cleanup"
	"github.com/nsl-labs/router/lib/config"
	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/events"
	"github.com/nsl-labs/router/lib/identity"
	"github.com/nsl-labs/router/lib/routestore"
	"github.com/nsl-labs/router/lib/services"
	"github.com/nsl-labs/router/lib/tlsca"
	"github.com/nsl-labs/router/lib/web"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

func main() {
	app := kingpin.New("routerd", "nsl-router mesh control plane.")
	debug := app.Flag("debug", "Enable verbose logging.").Short('d').Bool()

	start := app.Command("start", "Start the control plane.")
	addr := start.Flag("addr", "HTTP listen address.").
		Default(fmt.Sprintf("%v:%v", defaults.BindIP, defaults.HTTPListenPort)).String()
	dev := start.Flag("dev", "Run with the in-memory identity registry, for local development.").Bool()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	logutils.Init(*debug)
	log := logutils.NewPackageLogger(router.ComponentKey, "routerd")

	switch command {
	case start.FullCommand():
		if err := run(*addr, *dev); err != nil {
			log.Error("Failed to start.", "error", err)
			os.Exit(1)
		}
	}
}

func run(addr string, dev bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}
	log := logutils.NewPackageLogger(router.ComponentKey, "routerd")
	clock := clockwork.NewRealClock()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return trace.Wrap(err, "parsing REDIS_URL")
	}
	redisOpts.DialTimeout = defaults.StoreDialTimeout
	redisOpts.ReadTimeout = defaults.StoreIOTimeout
	redisOpts.WriteTimeout = defaults.StoreIOTimeout
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return trace.ConnectionProblem(err, "connecting to redis at %v", redisOpts.Addr)
	}

	var identities services.Identities
	if dev {
		log.Info("Running with the in-memory identity registry.")
		identities = identity.NewMemoryRegistry(clock)
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, defaults.StoreDialTimeout)
		defer cancel()
		mongoClient, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return trace.ConnectionProblem(err, "connecting to mongo")
		}
		defer mongoClient.Disconnect(context.Background())
		if err := mongoClient.Ping(dialCtx, nil); err != nil {
			return trace.ConnectionProblem(err, "pinging mongo")
		}
		identities, err = identity.NewMongoRegistry(identity.MongoRegistryConfig{
			Database: mongoClient.Database(defaults.IdentityDatabase),
			Clock:    clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}

	activity, err := routestore.NewActivityTracker(redisClient, clock)
	if err != nil {
		return trace.Wrap(err)
	}
	store, err := routestore.NewStore(routestore.Config{
		Client:   redisClient,
		TTL:      cfg.RoutesTTL,
		Activity: activity,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	// The CA must be usable before the first request comes in.
	authority, err := tlsca.Load(tlsca.Config{
		CertPath:     cfg.CACertPath,
		KeyPath:      cfg.CAKeyPath,
		ServerDomain: cfg.ServerDomain,
		Validity:     cfg.CertValidity,
		Clock:        clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	domainLog, err := events.NewDomainLog(events.DomainLogConfig{Path: cfg.DomainLogPath})
	if err != nil {
		return trace.Wrap(err)
	}
	defer domainLog.Close()

	controller, err := cleanup.NewController(cleanup.Config{
		Identities:   identities,
		Activity:     activity,
		DomainLog:    domainLog,
		InactiveDays: cfg.InactiveDomainDays,
		Clock:        clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	schedule, err := cleanup.ParseSchedule(cfg.CleanupSchedule)
	if err != nil {
		return trace.Wrap(err)
	}
	go schedule.Run(ctx, clock, func(ctx context.Context) {
		if _, err := controller.Run(ctx); err != nil {
			log.Warn("Scheduled cleanup pass failed.", "error", err)
		}
	})

	authenticator, err := auth.NewAuthenticator(identities)
	if err != nil {
		return trace.Wrap(err)
	}
	handler, err := web.NewHandler(web.Config{
		Identities:    identities,
		Routes:        store,
		Authenticator: authenticator,
		Tokens:        auth.NewTokenAuthenticator(cfg.ServiceAPIKey, nil),
		Authority:     authority,
		Cleanup:       controller,
		DomainLog:     domainLog,
		ServerDomain:  cfg.ServerDomain,
		Clock:         clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: defaults.ReadHeadersTimeout,
		IdleTimeout:       defaults.HTTPIdleTimeout,
	}
	errC := make(chan error, 1)
	go func() {
		log.Info("Serving the control plane API.",
			"addr", addr, "server_domain", cfg.ServerDomain, "cleanup_schedule", schedule.String())
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	log.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
