package detector

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/trust"
)

func testDetector(t *testing.T) *Detector {
	t.Helper()
	signer, _, err := trust.GenerateSigner("cam-1")
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return &Detector{
		cfg: Config{
			HorizontalFOVDeg: 90,
			Topic:            "camera.detection",
			CapabilityToken:  []byte{0x01},
		},
		signer:     signer,
		inputWidth: 300,
	}
}

// TestObservationsAtCentersOnBoresight confirms a detection exactly
// centered in frame projects along the camera's own heading with no
// bearing offset.
func TestObservationsAtCentersOnBoresight(t *testing.T) {
	d := testDetector(t)
	camera := geodesy.Geodetic{LatDeg: 10, LonDeg: 20, AltM: 0}
	det := Detection{Class: "person", Confidence: 0.9, BoundingBox: BoundingBox{X: 100, Y: 0, Width: 100, Height: 50}}

	packets, err := d.ObservationsAt([]Detection{det}, camera, 0, 50)
	if err != nil {
		t.Fatalf("ObservationsAt: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	p := packets[0]
	// Centered detection with cameraYawDeg=0 should land due north
	// (ENU y-axis), i.e. same longitude, increased latitude.
	if math.Abs(p.Position[1]-camera.LonDeg) > 1e-6 {
		t.Errorf("expected longitude to match camera (boresight north), got %v vs %v", p.Position[1], camera.LonDeg)
	}
	if p.Position[0] <= camera.LatDeg {
		t.Errorf("expected latitude north of camera, got %v vs %v", p.Position[0], camera.LatDeg)
	}
	if p.Class != "person" || p.Confidence != 0.9 {
		t.Errorf("expected class/confidence to pass through, got %q/%v", p.Class, p.Confidence)
	}
	if len(p.Signature) == 0 {
		t.Error("expected a non-empty signature")
	}
}

// TestObservationsAtOffCenterBearing confirms a detection in the right
// half of the frame projects east of boresight.
func TestObservationsAtOffCenterBearing(t *testing.T) {
	d := testDetector(t)
	camera := geodesy.Geodetic{LatDeg: 10, LonDeg: 20, AltM: 0}
	det := Detection{Class: "car", Confidence: 0.7, BoundingBox: BoundingBox{X: 250, Y: 0, Width: 20, Height: 20}}

	packets, err := d.ObservationsAt([]Detection{det}, camera, 0, 50)
	if err != nil {
		t.Fatalf("ObservationsAt: %v", err)
	}
	if packets[0].Position[1] <= camera.LonDeg {
		t.Errorf("expected a detection right of frame center to project east (higher lon), got %v vs %v", packets[0].Position[1], camera.LonDeg)
	}
}

func TestResizeNearestPreservesCornerColors(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{255, 0, 0, 255})
	src.Set(1, 0, color.RGBA{0, 255, 0, 255})
	src.Set(0, 1, color.RGBA{0, 0, 255, 255})
	src.Set(1, 1, color.RGBA{255, 255, 255, 255})

	dst := resizeNearest(src, 4, 4)
	if dst.Bounds().Dx() != 4 || dst.Bounds().Dy() != 4 {
		t.Fatalf("expected a 4x4 image, got %v", dst.Bounds())
	}
	r, g, b, _ := dst.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("expected top-left corner to stay red, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}
