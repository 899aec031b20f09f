// Command aegis runs the collaborative-perception fusion core: the
// Trust verifier admitting observation packets, the Tracking engine
// fusing them into tracks, the NATS bus carrying packets and snapshots,
// and the admin/observability HTTP API — grounded on cmd/giru/main.go's
// flag/signal/graceful-shutdown structure.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asgard/aegis/internal/api"
	"github.com/asgard/aegis/internal/api/livefeed"
	"github.com/asgard/aegis/internal/platform/audit"
	"github.com/asgard/aegis/internal/platform/bus"
	"github.com/asgard/aegis/internal/platform/config"
	"github.com/asgard/aegis/internal/platform/observability"
	"github.com/asgard/aegis/internal/tracking"
	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/internal/trust/highauth"
	"github.com/asgard/aegis/internal/trust/keyring"
	"github.com/asgard/aegis/internal/trust/keystore"
	"github.com/asgard/aegis/pkg/wire"
	"github.com/go-webauthn/webauthn/webauthn"
)

func main() {
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides AEGIS_HTTP_ADDR)")
	jwtSecretFlag := flag.String("jwt-secret", "", "HMAC secret for the admin API (overrides AEGIS_JWT_SECRET)")
	sweepInterval := flag.Duration("sweep-interval", 5*time.Second, "how often to run the track retirement sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	jwtSecret := []byte(*jwtSecretFlag)
	if len(jwtSecret) == 0 {
		jwtSecret = []byte(getenvOrDefault("AEGIS_JWT_SECRET", "development-only-secret"))
	}

	if cfg.RootKeyringPath != "" {
		priv, err := loadSealedRootKey(cfg.RootKeyringPath, cfg.RootPassphrase)
		if err != nil {
			log.Fatalf("keyring: %v", err)
		}
		cfg.RootPrivateKey = priv
		cfg.RootPublicKey = priv.Public().(ed25519.PublicKey)
	}

	log.Println("=== Aegis Fusion Core ===")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink tracking.RejectionSink
	auditSink, err := audit.Open(cfg.PostgresDSN())
	if err != nil {
		log.Printf("Warning: audit sink unavailable: %v (continuing without retirement persistence)", err)
	} else {
		defer auditSink.Close()
		sink = audit.TrackingSink{Sink: auditSink}
	}

	engine := tracking.New(trackingConfig(cfg), sink)

	authority := trust.NewAuthority(ed25519.PublicKey(cfg.RootPublicKey), ed25519.PrivateKey(cfg.RootPrivateKey))

	var webAuthnCfg *webauthn.Config
	if cfg.WebAuthnConfigured() {
		webAuthnCfg = &webauthn.Config{
			RPID:          cfg.WebAuthnRPID,
			RPOrigins:     []string{cfg.WebAuthnRPOrigin},
			RPDisplayName: cfg.WebAuthnRPName,
		}
	}
	gate, err := highauth.NewGate(authority, webAuthnCfg)
	if err != nil {
		log.Fatalf("highauth: %v", err)
	}
	verifier := trust.NewVerifier(trust.Config{
		RootPublicKey:         ed25519.PublicKey(cfg.RootPublicKey),
		MaxAdmissibleLatency:  cfg.MaxAdmissibleLatencyS,
		ClockSkewTolerance:    cfg.ClockSkewToleranceS,
	})

	if cfg.MongoURI != "" {
		store, err := keystore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoKeyCollection)
		if err != nil {
			log.Printf("Warning: peer keystore unavailable: %v (continuing with an empty key registry)", err)
		} else if err := store.LoadAll(ctx, verifier); err != nil {
			log.Printf("Warning: loading peer keys: %v", err)
		}
	}

	natsCfg := bus.DefaultConfig()
	natsCfg.NATSURL = cfg.NATSURI()
	b, err := bus.Connect(natsCfg)
	if err != nil {
		log.Fatalf("bus: connect: %v", err)
	}
	defer b.Close()

	hub := livefeed.NewHub()
	go hub.Run()
	defer hub.Stop()

	if err := b.SubscribeObservations(func(p wire.Packet) {
		processObservation(verifier, engine, p, "default")
	}); err != nil {
		log.Fatalf("bus: subscribe observations: %v", err)
	}

	go retirementLoop(ctx, engine, b, hub, *sweepInterval)

	router := api.NewRouter(authority, gate, engine, hub, jwtSecret)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down Aegis...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	log.Println("Aegis stopped")
}

// processObservation admits p through the Trust verifier and, if
// admitted, digests it into a tracking.Observation for the engine.
func processObservation(verifier *trust.Verifier, engine *tracking.Engine, p wire.Packet, region string) {
	result := verifier.VerifyPacket(p, time.Now(), region)
	observability.Get().RecordAdmission(result.Kind.String())
	if result.Kind != trust.OK {
		return
	}

	obs := tracking.Observation{
		ID:          p.ID,
		AgentID:     p.AgentID,
		Time:        time.UnixMilli(p.TimestampMs),
		Position:    trust.PositionToGeodetic(p.SignedFields),
		PositionCov: p.PositionCov,
		HasVelocity: p.HasVelocity,
		Velocity:    p.Velocity,
		VelocityCov: p.VelocityCov,
		Class:       p.Class,
		Confidence:  p.Confidence,
	}
	outcome := engine.Process(obs, time.Now())
	observability.Get().RecordTrackingOutcome(outcome.String())
}

// retirementLoop periodically sweeps stale tracks and republishes the
// current snapshot set to both the bus and the livefeed hub.
func retirementLoop(ctx context.Context, engine *tracking.Engine, b *bus.Bus, hub *livefeed.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.RetirementSweep(time.Now())

			snaps := engine.Snapshot()
			observability.Get().TracksActive.Set(float64(len(snaps)))

			msgs := make([]bus.SnapshotMessage, len(snaps))
			for i, s := range snaps {
				msgs[i] = bus.ToSnapshotMessage(s)
			}
			hub.Publish(msgs)

			if err := b.PublishSnapshots(snaps); err != nil {
				log.Printf("[aegis] publish snapshots: %v", err)
			}
		}
	}
}

func trackingConfig(cfg *config.Config) tracking.Config {
	base := tracking.DefaultConfig()
	base.FilterConfig.LagL = cfg.FilterLagL
	base.FilterConfig.StateDim = cfg.StateDimN
	base.Space.HexResolution = cfg.HexResolution
	base.Space.AltitudeBucketM = cfg.AltitudeBucketM
	base.SearchRadiusM = cfg.GateRadiusM
	base.GateChiSquare = cfg.MahalanobisThreshold
	base.RetirementThreshold = cfg.RetirementThresholdS
	base.MaxAdmissibleLatency = cfg.MaxAdmissibleLatencyS
	return base
}

// loadSealedRootKey reads a keyring.Sealed root key from path and
// decrypts it with passphrase, overriding whatever key config.Load
// assembled from AEGIS_ROOT_PUBLIC_KEY/AEGIS_ROOT_PRIVATE_KEY.
func loadSealedRootKey(path, passphrase string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sealed, err := keyring.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return keyring.Open(sealed, passphrase)
}

func getenvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
