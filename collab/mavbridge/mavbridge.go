// Package mavbridge is a reference collaborator: it reads MAVLink
// telemetry from a flight controller over a serial link and turns it
// into signed observation packets, grounded on
// Valkyrie/internal/actuators/mavlink.go's connection/config shape
// (serial port, baud rate, system/component ID, mutex-protected current
// state) recombined around github.com/mavlink/mavlink for message
// decoding instead of the teacher's hand-rolled protocol parser. It is a
// demonstration outside the core engines' contract: nothing here
// participates in admission, filtering, spatial indexing, or fusion —
// it only produces the packets those engines consume.
package mavbridge

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mavlink/mavlink/common"
	"github.com/tarm/serial"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/pkg/wire"
)

// Config configures a Bridge's serial connection and the identity it
// signs packets with.
type Config struct {
	Port        string
	BaudRate    int
	SystemID    uint8
	ComponentID uint8
	AgentID     string
	Topic       string
	// Class is the observation class reported for the vehicle itself
	// (e.g. "uav"), since a flight controller has no detector of its
	// own to classify other agents.
	Class string
	// CapabilityToken is the encoded trust.Token (see
	// trust.Authority.IssueRootToken) authorizing this agent to publish
	// on Topic, attached to every outgoing packet unchanged.
	CapabilityToken []byte
}

// Bridge reads MAVLink LOCAL_POSITION_NED, ATTITUDE, and HOME_POSITION
// messages off a serial link and assembles them into signed wire.Packet
// observations anchored at the vehicle's home position.
type Bridge struct {
	cfg    Config
	signer *trust.Signer
	port   *serial.Port

	mu      sync.RWMutex
	home    geodesy.Geodetic
	haveHome bool
	yawDeg  float64
	local   [3]float64 // NED, meters from home
}

// NewBridge opens the configured serial port and constructs a Bridge
// that signs outgoing packets with priv.
func NewBridge(cfg Config, priv ed25519.PrivateKey) (*Bridge, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 57600
	}
	if cfg.Topic == "" {
		cfg.Topic = "vehicle.position"
	}
	if cfg.Class == "" {
		cfg.Class = "uav"
	}

	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("mavbridge: open %s: %w", cfg.Port, err)
	}

	return &Bridge{
		cfg:    cfg,
		signer: trust.NewSigner(cfg.AgentID, priv),
		port:   port,
	}, nil
}

// Run decodes frames from the serial link until it returns an
// unrecoverable read error, invoking emit with a fresh signed packet
// every time a LOCAL_POSITION_NED update arrives after a home position
// is known.
func (b *Bridge) Run(emit func(wire.Packet)) error {
	dec := common.NewDecoder(b.port)
	for {
		frame, err := dec.Decode()
		if err != nil {
			return fmt.Errorf("mavbridge: decode: %w", err)
		}

		switch msg := frame.Message.(type) {
		case *common.HomePosition:
			b.mu.Lock()
			b.home = geodesy.Geodetic{
				LatDeg: float64(msg.Latitude) / 1e7,
				LonDeg: float64(msg.Longitude) / 1e7,
				AltM:   float64(msg.Altitude) / 1e3,
			}
			b.haveHome = true
			b.mu.Unlock()

		case *common.Attitude:
			b.mu.Lock()
			b.yawDeg = msg.Yaw * 180 / math.Pi
			b.mu.Unlock()

		case *common.LocalPositionNed:
			b.mu.Lock()
			b.local = [3]float64{float64(msg.X), float64(msg.Y), float64(msg.Z)}
			origin, have, yaw := b.home, b.haveHome, b.yawDeg
			b.mu.Unlock()

			if !have {
				continue
			}
			packet, err := b.buildPacket(origin, yaw)
			if err != nil {
				log.Printf("[mavbridge] build packet: %v", err)
				continue
			}
			emit(packet)
		}
	}
}

// buildPacket converts the current NED offset from home into a WGS84
// position and signs a new observation packet for it. NED's down axis
// is negated to ENU's up before the rotation, and velocity is reported
// as zero since LOCAL_POSITION_NED's velocity fields are in the same
// frame and would require the same conversion — left to a richer
// collaborator than this reference one.
func (b *Bridge) buildPacket(origin geodesy.Geodetic, yawDeg float64) (wire.Packet, error) {
	b.mu.RLock()
	local := b.local
	b.mu.RUnlock()

	enu := [3]float64{local[1], local[0], -local[2]}
	pos := geodesy.LocalOffsetToWGS84(origin, enu, yawDeg)

	p := wire.Packet{
		SignedFields: wire.SignedFields{
			ID:          uuid.NewString(),
			Topic:       b.cfg.Topic,
			TimestampMs: time.Now().UnixMilli(),
			Position:    [3]float64{pos.LatDeg, pos.LonDeg, pos.AltM},
			PositionCov: [3][3]float64{{4, 0, 0}, {0, 4, 0}, {0, 0, 9}},
			Class:       b.cfg.Class,
			Confidence:  1.0,
			CapabilityToken: b.cfg.CapabilityToken,
			AgentPose: wire.AgentPose{
				LatDeg:     pos.LatDeg,
				LonDeg:     pos.LonDeg,
				AltM:       pos.AltM,
				HeadingDeg: yawDeg,
			},
		},
	}
	if err := b.signer.Sign(&p); err != nil {
		return wire.Packet{}, err
	}
	return p, nil
}

// Close releases the underlying serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}
