// Broker HA Replication Agent
//
//	@title			Broker HA Replication Agent
//	@version		1.0
//	@description	Control-stream transport, membership publishing and status surface for the HA replication core. A host broker links internal/ha/primary directly and wires its live controller into this process's httpapi.Handler; standalone, this binary reports a standby role and keeps the control-stream and membership connections warm.
//
//	@host		localhost:8080
//	@BasePath	/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"go.brokerha.dev/internal/common/lifecycle"
	"go.brokerha.dev/internal/config"
	"go.brokerha.dev/internal/ha/authn"
	hahealth "go.brokerha.dev/internal/ha/health"
	"go.brokerha.dev/internal/ha/httpapi"
	membershipcache "go.brokerha.dev/internal/ha/membership/cache"
	membershipnats "go.brokerha.dev/internal/ha/membership/nats"
	"go.brokerha.dev/internal/ha/secrets"
	transportamqp "go.brokerha.dev/internal/ha/transport/amqp"
	transportsqs "go.brokerha.dev/internal/ha/transport/sqs"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	if os.Getenv("BROKERHA_DEV") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Info().Str("version", version).Str("buildTime", buildTime).Msg("starting broker HA replication agent")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lc := lifecycle.NewManager()

	var transportChecker hahealth.ConnectivityChecker
	var transportKind hahealth.TransportKind

	switch cfg.Transport.Kind {
	case "sqs":
		sqsClient, err := transportsqs.NewClient(context.Background(), "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build sqs control-stream client")
		}
		transportChecker = sqsClient
		transportKind = hahealth.TransportSQS
		lc.RegisterReplicationShutdown("sqs-control-stream", func(ctx context.Context) error {
			sqsClient.Close()
			return nil
		})

	default:
		amqpCfg := transportamqp.DefaultConfig()
		if cfg.Transport.URL != "" {
			amqpCfg.URL = cfg.Transport.URL
		}
		link, err := transportamqp.Dial(amqpCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to dial control-stream broker")
		}
		runCtx, cancelRun := context.WithCancel(context.Background())
		go link.Run(runCtx)
		transportChecker = link
		transportKind = hahealth.TransportAMQP
		lc.RegisterReplicationShutdown("amqp-control-stream", func(ctx context.Context) error {
			cancelRun()
			link.Close()
			return nil
		})
	}

	transportHealth := hahealth.New(transportKind, transportChecker)

	var membershipPublisher *membershipnats.Publisher
	if cfg.Membership.NATSURL != "" {
		natsCfg := membershipnats.DefaultConfig()
		natsCfg.URL = cfg.Membership.NATSURL
		membershipPublisher, err = membershipnats.Connect(natsCfg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect membership publisher, continuing without it")
		} else {
			lc.RegisterLeaderShutdown("membership-publisher", func(ctx context.Context) error {
				membershipPublisher.Close()
				return nil
			})
		}
	}

	// The embedding broker supplies the live *primary.Primary controller
	// and re-registers httpapi.NewHandler with it once promoted; standalone,
	// this agent reports a standby role on /ha/status.
	handler := httpapi.NewHandler(nil)

	if cfg.Membership.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Membership.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid membership redis url, /ha/members disabled")
		} else {
			redisClient := redis.NewClient(redisOpts)
			snapshot := membershipcache.New(redisClient, 30*time.Second)
			handler = handler.WithMembershipReader(snapshot)
			lc.RegisterLeaderShutdown("membership-cache", func(ctx context.Context) error {
				return redisClient.Close()
			})
		}
	}

	var verifier *authn.PSKVerifier
	if cfg.Secrets.Backend != "" {
		source, err := buildSecretSource(context.Background(), cfg.Secrets)
		if err != nil {
			log.Warn().Err(err).Msg("failed to build secrets source, connection authentication disabled")
		} else {
			key, err := source.GetSecret(context.Background(), cfg.Secrets.Name)
			if err != nil {
				log.Warn().Err(err).Msg("failed to fetch control-stream credential, connection authentication disabled")
			} else {
				verifier = authn.NewPSKVerifier(key, []byte(cfg.Secrets.Name))
			}
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/q/health/live", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/q/health/ready", func(w http.ResponseWriter, req *http.Request) {
		issues := transportHealth.Check()
		if len(issues) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "%v", issues)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(pskAuth(verifier))
		r.Get("/ha/status", handler.Status)
		r.Get("/ha/backups", handler.Backups)
		r.Get("/ha/members", handler.Members)
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	server := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	lc.RegisterHTTPShutdown("http-server", server.Shutdown)

	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down gracefully")
	if err := lc.Execute(); err != nil {
		log.Error().Err(err).Msg("graceful shutdown did not complete cleanly")
	}
	log.Info().Msg("broker HA replication agent stopped")
}

// buildSecretSource constructs the secrets.Source matching cfg.Backend,
// using each SDK's default client construction (ambient credentials from
// the environment, matching transportsqs.NewClient's convention for AWS).
func buildSecretSource(ctx context.Context, cfg config.SecretsConfig) (secrets.Source, error) {
	switch cfg.Backend {
	case "vault":
		vaultCfg := vaultapi.DefaultConfig()
		if cfg.VaultAddr != "" {
			vaultCfg.Address = cfg.VaultAddr
		}
		client, err := vaultapi.NewClient(vaultCfg)
		if err != nil {
			return nil, fmt.Errorf("build vault client: %w", err)
		}
		return secrets.NewVaultSource(client, cfg.VaultMount), nil

	case "aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return secrets.NewAWSSource(secretsmanager.NewFromConfig(awsCfg)), nil

	case "gcp":
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcp secret manager client: %w", err)
		}
		return secrets.NewGCPSource(client, cfg.GCPProject), nil

	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// pskAuth requires a matching "Authorization: PSK <key>" header on every
// request when v is non-nil. A nil v (no secrets backend configured)
// leaves the route open, matching this agent's standalone-by-default
// posture.
func pskAuth(v *authn.PSKVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "PSK "
			header := r.Header.Get("Authorization")
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if err := v.Verify([]byte(header[len(prefix):])); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
