package mavbridge

import (
	"math"
	"testing"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/trust"
)

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	signer, _, err := trust.GenerateSigner("uav-1")
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return &Bridge{
		cfg: Config{
			AgentID:         "uav-1",
			Topic:           "vehicle.position",
			Class:           "uav",
			CapabilityToken: []byte{0xa0}, // opaque for this test; signature checks only require presence
		},
		signer: signer,
	}
}

// TestBuildPacketSignsWithHomeOffset confirms a LOCAL_POSITION_NED
// reading north and up from home moves the resulting WGS84 position
// north and up from the home position.
func TestBuildPacketSignsWithHomeOffset(t *testing.T) {
	b := testBridge(t)
	home := geodesy.Geodetic{LatDeg: 37.0, LonDeg: -122.0, AltM: 0}
	b.local = [3]float64{100, 0, -50} // NED: 100m north, 0m east, 50m up

	p, err := b.buildPacket(home, 0)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	if p.Position[0] <= home.LatDeg {
		t.Errorf("expected latitude north of home, got %v vs home %v", p.Position[0], home.LatDeg)
	}
	got := geodesy.Geodetic{LatDeg: p.Position[0], LonDeg: p.Position[1], AltM: p.Position[2]}
	if up := geodesy.ENUOffset(home, got)[2]; math.Abs(up-50) > 1e-3 {
		t.Errorf("expected +50m up from home, got %v", up)
	}
	if p.ID == "" {
		t.Error("expected a generated packet ID")
	}
	if len(p.CapabilityToken) == 0 {
		t.Error("expected capability token to be carried onto the packet")
	}
	if p.Class != "uav" {
		t.Errorf("expected class uav, got %q", p.Class)
	}
}

// TestBuildPacketIsSigned confirms buildPacket's output carries a
// non-empty signature and the bridge's AgentID.
func TestBuildPacketIsSigned(t *testing.T) {
	b := testBridge(t)
	home := geodesy.Geodetic{LatDeg: 10, LonDeg: 10, AltM: 10}
	b.local = [3]float64{0, 0, 0}

	p, err := b.buildPacket(home, 45)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	if len(p.Signature) == 0 {
		t.Error("expected buildPacket to produce a non-empty signature")
	}
	if p.AgentID != "uav-1" {
		t.Errorf("expected AgentID uav-1, got %q", p.AgentID)
	}
}
