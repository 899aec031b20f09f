// Package netcapture is a reference collaborator: it sniffs a UDP
// multicast sensor feed with github.com/google/gopacket/pcap and turns
// each datagram's JSON payload into a signed observation packet,
// grounded on internal/security/scanner/capture.go's
// pcap.OpenLive/gopacket.NewPacketSource shape and cmd/giru/main.go's
// interface-listing conventions. It is a demonstration outside the core
// engines' contract: nothing here participates in admission, filtering,
// spatial indexing, or fusion — it only produces the packets those
// engines consume.
package netcapture

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/pkg/wire"
)

// Device describes a capturable network interface, mirroring what
// pcap.FindAllDevs reports.
type Device struct {
	Name        string
	Description string
}

// ListDevices enumerates the interfaces pcap can open for capture.
func ListDevices() ([]Device, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]Device, len(devs))
	for i, d := range devs {
		out[i] = Device{Name: d.Name, Description: d.Description}
	}
	return out, nil
}

// reading is the JSON payload a sensor gateway is expected to publish
// over the captured UDP stream: a pre-fused single observation, already
// containing its own capability token, awaiting only a signature from
// this bridge's key.
type reading struct {
	ID          string        `json:"id"`
	Topic       string        `json:"topic"`
	TimestampMs int64         `json:"timestamp_ms"`
	Position    [3]float64    `json:"position"`
	PositionCov [3][3]float64 `json:"position_cov"`
	Class       string        `json:"class"`
	Confidence  float64       `json:"confidence"`
	Token       []byte        `json:"token"`
}

// Config configures a Bridge's capture interface, BPF filter, and the
// identity it signs packets with.
type Config struct {
	Interface   string
	SnapLen     int32
	Promiscuous bool
	// BPFFilter restricts capture to the sensor feed, e.g.
	// "udp and dst port 5600".
	BPFFilter string
	AgentID   string
}

// Bridge captures a UDP multicast feed and republishes each datagram as
// a signed wire.Packet.
type Bridge struct {
	cfg    Config
	signer *trust.Signer
	handle *pcap.Handle
}

// NewBridge opens the configured interface for live capture.
func NewBridge(cfg Config, priv ed25519.PrivateKey) (*Bridge, error) {
	if cfg.SnapLen == 0 {
		cfg.SnapLen = 65535
	}

	handle, err := pcap.OpenLive(cfg.Interface, cfg.SnapLen, cfg.Promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("netcapture: open %s: %w", cfg.Interface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("netcapture: set filter: %w", err)
		}
	}

	return &Bridge{
		cfg:    cfg,
		signer: trust.NewSigner(cfg.AgentID, priv),
		handle: handle,
	}, nil
}

// Run captures packets until ctx is canceled, invoking emit with a
// freshly signed packet for every well-formed UDP payload. Malformed
// payloads are logged and dropped rather than treated as a fatal error,
// since a single bad datagram should not take the whole feed down.
func (b *Bridge) Run(ctx context.Context, emit func(wire.Packet)) {
	source := gopacket.NewPacketSource(b.handle, b.handle.LinkType())
	packets := source.Packets()

	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, _ := udpLayer.(*layers.UDP)
			if udp == nil || len(udp.Payload) == 0 {
				continue
			}

			var r reading
			if err := json.Unmarshal(udp.Payload, &r); err != nil {
				log.Printf("[netcapture] decode payload: %v", err)
				continue
			}

			p, err := b.buildPacket(r)
			if err != nil {
				log.Printf("[netcapture] build packet: %v", err)
				continue
			}
			emit(p)
		}
	}
}

func (b *Bridge) buildPacket(r reading) (wire.Packet, error) {
	p := wire.Packet{
		SignedFields: wire.SignedFields{
			ID:              r.ID,
			Topic:           r.Topic,
			TimestampMs:     r.TimestampMs,
			Position:        r.Position,
			PositionCov:     r.PositionCov,
			Class:           r.Class,
			Confidence:      r.Confidence,
			CapabilityToken: r.Token,
		},
	}
	if err := b.signer.Sign(&p); err != nil {
		return wire.Packet{}, err
	}
	return p, nil
}

// Close releases the underlying pcap handle.
func (b *Bridge) Close() {
	b.handle.Close()
}
