// Package bus provides the NATS transport collaborators use to submit
// observation packets and subscribe to fused-track snapshots, grounded on
// internal/platform/realtime/bridge.go's Bridge/BridgeConfig/NewBridge
// structure — adapted from that file's WebSocket-fanout subject taxonomy
// to this repository's two-subject (observations in, snapshots out) bus.
package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/platform/observability"
	"github.com/asgard/aegis/internal/tracking"
	"github.com/asgard/aegis/pkg/wire"
)

// ObservationSubject is where collaborators publish signed observation
// packets; the core subscribes to the wildcard form.
const ObservationSubject = "aegis.observations"

// ObservationSubjectWildcard matches every agent's observation subject.
const ObservationSubjectWildcard = "aegis.observations.>"

// SnapshotSubject is where the core publishes fused-track snapshots on
// each retirement-sweep tick.
const SnapshotSubject = "aegis.tracks.snapshot"

// Config configures a Bus connection.
type Config struct {
	NATSURL       string
	ReconnectWait time.Duration
	MaxReconnects int
	PingInterval  time.Duration
}

// DefaultConfig returns sensible defaults for a local NATS server.
func DefaultConfig() Config {
	return Config{
		NATSURL:       "nats://localhost:4222",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
		PingInterval:  30 * time.Second,
	}
}

// Bus wraps a NATS connection carrying observation packets inbound and
// track snapshots outbound.
type Bus struct {
	nc            *nats.Conn
	mu            sync.Mutex
	subscriptions []*nats.Subscription
}

// Connect dials NATS at cfg.NATSURL and wires connection-state changes
// into the observability metrics.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.PingInterval(cfg.PingInterval),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bus] reconnected to %s", nc.ConnectedUrl())
			observability.Get().SetNATSConnected(true)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[bus] disconnected: %v", err)
			}
			observability.Get().SetNATSConnected(false)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Printf("[bus] error: %v", err)
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		observability.Get().SetNATSConnected(false)
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	observability.Get().SetNATSConnected(true)

	return &Bus{nc: nc}, nil
}

// PublishObservation publishes a signed wire packet under the
// per-agent observation subject.
func (b *Bus) PublishObservation(p wire.Packet) error {
	data, err := wire.Encode(p)
	if err != nil {
		return fmt.Errorf("bus: encode packet: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", ObservationSubject, p.AgentID)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish observation: %w", err)
	}
	observability.Get().NATSMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

// SubscribeObservations delivers every observation packet published on
// ObservationSubjectWildcard to handler. Malformed payloads are logged
// and dropped rather than surfaced, matching the admission-phase policy
// that errors never terminate the engine.
func (b *Bus) SubscribeObservations(handler func(wire.Packet)) error {
	sub, err := b.nc.Subscribe(ObservationSubjectWildcard, func(msg *nats.Msg) {
		observability.Get().NATSMessagesReceived.WithLabelValues(msg.Subject).Inc()
		p, err := wire.Decode(msg.Data)
		if err != nil {
			log.Printf("[bus] malformed observation on %s: %v", msg.Subject, err)
			return
		}
		handler(p)
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe observations: %w", err)
	}
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()
	return nil
}

// SnapshotMessage is the wire-serializable projection of a
// tracking.Snapshot: covariances are flattened to plain 3x3 arrays since
// gonum's mat.SymDense does not implement cbor.Marshaler.
type SnapshotMessage struct {
	CanonicalID     string        `cbor:"canonical_id"`
	LatDeg          float64       `cbor:"lat"`
	LonDeg          float64       `cbor:"lon"`
	AltM            float64       `cbor:"alt"`
	PositionCov     [3][3]float64 `cbor:"position_cov"`
	Velocity        [3]float64    `cbor:"velocity"`
	VelocityCov     [3][3]float64 `cbor:"velocity_cov"`
	Class           string        `cbor:"class"`
	LastUpdateMs    int64         `cbor:"last_update_ms"`
	ContributingIDs []string      `cbor:"contributing_ids"`
	AliasCount      int           `cbor:"alias_count"`
}

// ToSnapshotMessage flattens a tracking.Snapshot into its wire form.
func ToSnapshotMessage(s tracking.Snapshot) SnapshotMessage {
	msg := SnapshotMessage{
		CanonicalID:     s.CanonicalID,
		LatDeg:          s.Position.LatDeg,
		LonDeg:          s.Position.LonDeg,
		AltM:            s.Position.AltM,
		Velocity:        s.Velocity,
		Class:           s.Class,
		LastUpdateMs:    s.LastUpdate.UnixMilli(),
		ContributingIDs: s.ContributingIDs,
		AliasCount:      s.AliasCount,
	}
	if s.PositionCov != nil {
		n := s.PositionCov.SymmetricDim()
		for i := 0; i < n && i < 3; i++ {
			for j := 0; j < n && j < 3; j++ {
				msg.PositionCov[i][j] = s.PositionCov.At(i, j)
			}
		}
	}
	if s.VelocityCov != nil {
		n := s.VelocityCov.SymmetricDim()
		for i := 0; i < n && i < 3; i++ {
			for j := 0; j < n && j < 3; j++ {
				msg.VelocityCov[i][j] = s.VelocityCov.At(i, j)
			}
		}
	}
	return msg
}

// Geodetic returns the snapshot message's position as a geodesy.Geodetic.
func (m SnapshotMessage) Geodetic() geodesy.Geodetic {
	return geodesy.Geodetic{LatDeg: m.LatDeg, LonDeg: m.LonDeg, AltM: m.AltM}
}

var snapshotCanonical = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("bus: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

// PublishSnapshots encodes and publishes every snapshot in snaps as a
// single batch on SnapshotSubject.
func (b *Bus) PublishSnapshots(snaps []tracking.Snapshot) error {
	msgs := make([]SnapshotMessage, len(snaps))
	for i, s := range snaps {
		msgs[i] = ToSnapshotMessage(s)
	}
	data, err := snapshotCanonical.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("bus: encode snapshots: %w", err)
	}
	if err := b.nc.Publish(SnapshotSubject, data); err != nil {
		return fmt.Errorf("bus: publish snapshots: %w", err)
	}
	observability.Get().NATSMessagesPublished.WithLabelValues(SnapshotSubject).Inc()
	return nil
}

// SubscribeSnapshots delivers each published snapshot batch to handler.
func (b *Bus) SubscribeSnapshots(handler func([]SnapshotMessage)) error {
	sub, err := b.nc.Subscribe(SnapshotSubject, func(msg *nats.Msg) {
		observability.Get().NATSMessagesReceived.WithLabelValues(msg.Subject).Inc()
		var msgs []SnapshotMessage
		if err := cbor.Unmarshal(msg.Data, &msgs); err != nil {
			log.Printf("[bus] malformed snapshot batch: %v", err)
			return
		}
		handler(msgs)
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe snapshots: %w", err)
	}
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()
	return nil
}

// IsConnected reports the underlying NATS connection's status.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
	}
	b.nc.Close()
	observability.Get().SetNATSConnected(false)
}
