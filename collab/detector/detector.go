// Package detector is a reference collaborator: a thin TFLite
// object-detector wrapper that turns camera frames into signed 3D
// observation packets, grounded on
// internal/orbital/vision/tflite_processor.go's
// Model/Interpreter/AllocateTensors/Invoke/SSD-output-parsing shape. It
// is a demonstration outside the core engines' contract: nothing here
// participates in admission, filtering, spatial indexing, or fusion —
// it only produces the packets those engines consume.
package detector

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-tflite"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/pkg/wire"
)

// BoundingBox is a detection's location in the source frame, in pixels.
type BoundingBox struct {
	X, Y, Width, Height int
}

// Detection is one SSD output above the confidence threshold.
type Detection struct {
	Class       string
	Confidence  float64
	BoundingBox BoundingBox
}

// Config configures a Detector's model, camera geometry, and the
// identity it signs packets with.
type Config struct {
	ModelPath string
	// HorizontalFOVDeg is the camera's horizontal field of view, used to
	// convert a bounding box's center column into a bearing relative to
	// the camera's boresight.
	HorizontalFOVDeg float64
	Classes          []string
	MinConfidence    float64
	AgentID          string
	Topic            string
	CapabilityToken  []byte
}

// Detector loads a TFLite SSD-style model and projects its detections
// into WGS84 observations relative to the camera's own pose.
type Detector struct {
	cfg         Config
	model       *tflite.Model
	interpreter *tflite.Interpreter
	signer      *trust.Signer
	inputWidth  int
	inputHeight int
}

// New loads the model at cfg.ModelPath and allocates its interpreter.
func New(cfg Config, priv ed25519.PrivateKey) (*Detector, error) {
	if cfg.HorizontalFOVDeg == 0 {
		cfg.HorizontalFOVDeg = 90
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.Topic == "" {
		cfg.Topic = "camera.detection"
	}

	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("detector: failed to load model: %s", cfg.ModelPath)
	}
	interpreter := tflite.NewInterpreter(model, nil)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("detector: failed to create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("detector: failed to allocate tensors")
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() < 4 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("detector: unexpected input tensor")
	}

	return &Detector{
		cfg:         cfg,
		model:       model,
		interpreter: interpreter,
		signer:      trust.NewSigner(cfg.AgentID, priv),
		inputHeight: input.Dim(1),
		inputWidth:  input.Dim(2),
	}, nil
}

// Detect runs the model against a JPEG frame and returns every
// detection scoring at or above cfg.MinConfidence.
func (d *Detector) Detect(frame []byte) ([]Detection, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("detector: jpeg decode: %w", err)
	}
	resized := resizeNearest(img, d.inputWidth, d.inputHeight)

	input := d.interpreter.GetInputTensor(0)
	buf := make([]uint8, d.inputWidth*d.inputHeight*3)
	idx := 0
	bounds := resized.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			buf[idx] = uint8(r >> 8)
			buf[idx+1] = uint8(g >> 8)
			buf[idx+2] = uint8(b >> 8)
			idx += 3
		}
	}
	if status := input.CopyFromBuffer(&buf[0]); status != tflite.OK {
		return nil, fmt.Errorf("detector: copy input")
	}
	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("detector: invoke")
	}

	return d.parseSSDOutputs()
}

func (d *Detector) parseSSDOutputs() ([]Detection, error) {
	boxesTensor := d.interpreter.GetOutputTensor(0)
	classesTensor := d.interpreter.GetOutputTensor(1)
	scoresTensor := d.interpreter.GetOutputTensor(2)
	countTensor := d.interpreter.GetOutputTensor(3)
	if boxesTensor == nil || classesTensor == nil || scoresTensor == nil || countTensor == nil {
		return nil, fmt.Errorf("detector: expected SSD output tensors not available")
	}

	boxes, err := readFloatTensor(boxesTensor)
	if err != nil {
		return nil, err
	}
	classes, err := readFloatTensor(classesTensor)
	if err != nil {
		return nil, err
	}
	scores, err := readFloatTensor(scoresTensor)
	if err != nil {
		return nil, err
	}
	counts, err := readFloatTensor(countTensor)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, nil
	}

	num := int(math.Round(float64(counts[0])))
	var detections []Detection
	for i := 0; i < num; i++ {
		score := scores[i]
		if float64(score) < d.cfg.MinConfidence {
			continue
		}
		off := i * 4
		ymin, xmin, ymax, xmax := boxes[off], boxes[off+1], boxes[off+2], boxes[off+3]

		classID := int(classes[i])
		class := "unknown"
		if classID >= 0 && classID < len(d.cfg.Classes) {
			class = d.cfg.Classes[classID]
		}

		detections = append(detections, Detection{
			Class:      class,
			Confidence: float64(score),
			BoundingBox: BoundingBox{
				X:      int(xmin * float32(d.inputWidth)),
				Y:      int(ymin * float32(d.inputHeight)),
				Width:  int((xmax - xmin) * float32(d.inputWidth)),
				Height: int((ymax - ymin) * float32(d.inputHeight)),
			},
		})
	}
	return detections, nil
}

// ObservationsAt projects each detection into a signed wire.Packet,
// treating its bounding box center column as a bearing offset from
// cameraYawDeg and assuming rangeM along that bearing — a detector has
// no depth sensor of its own, so range must come from a calling
// collaborator (stereo rig, lidar, or a fixed-distance assumption).
func (d *Detector) ObservationsAt(detections []Detection, camera geodesy.Geodetic, cameraYawDeg, rangeM float64) ([]wire.Packet, error) {
	packets := make([]wire.Packet, 0, len(detections))
	for _, det := range detections {
		centerX := det.BoundingBox.X + det.BoundingBox.Width/2
		normalized := float64(centerX)/float64(d.inputWidth) - 0.5
		bearingDeg := cameraYawDeg + normalized*d.cfg.HorizontalFOVDeg

		rad := bearingDeg * math.Pi / 180
		enu := [3]float64{rangeM * math.Sin(rad), rangeM * math.Cos(rad), 0}
		pos := geodesy.LocalOffsetToWGS84(camera, enu, 0)

		p := wire.Packet{
			SignedFields: wire.SignedFields{
				ID:              uuid.NewString(),
				Topic:           d.cfg.Topic,
				TimestampMs:     time.Now().UnixMilli(),
				Position:        [3]float64{pos.LatDeg, pos.LonDeg, pos.AltM},
				PositionCov:     [3][3]float64{{25, 0, 0}, {0, 25, 0}, {0, 0, 16}},
				Class:           det.Class,
				Confidence:      det.Confidence,
				CapabilityToken: d.cfg.CapabilityToken,
				AgentPose: wire.AgentPose{
					LatDeg:     camera.LatDeg,
					LonDeg:     camera.LonDeg,
					AltM:       camera.AltM,
					HeadingDeg: cameraYawDeg,
				},
			},
		}
		if err := d.signer.Sign(&p); err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// Close releases the interpreter and model.
func (d *Detector) Close() {
	if d.interpreter != nil {
		d.interpreter.Delete()
	}
	if d.model != nil {
		d.model.Delete()
	}
}

func readFloatTensor(tensor *tflite.Tensor) ([]float32, error) {
	switch tensor.Type() {
	case tflite.Float32:
		buf := make([]float32, tensor.ByteSize()/4)
		if status := tensor.CopyToBuffer(&buf[0]); status != tflite.OK {
			return nil, fmt.Errorf("detector: read float tensor")
		}
		return buf, nil
	case tflite.UInt8:
		buf := make([]uint8, tensor.ByteSize())
		if status := tensor.CopyToBuffer(&buf[0]); status != tflite.OK {
			return nil, fmt.Errorf("detector: read uint8 tensor")
		}
		q := tensor.QuantizationParams()
		out := make([]float32, len(buf))
		for i, v := range buf {
			out[i] = float32(q.Scale) * float32(int(v)-q.ZeroPoint)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("detector: unsupported tensor type: %v", tensor.Type())
	}
}

func resizeNearest(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	srcBounds := img.Bounds()
	srcW, srcH := srcBounds.Dx(), srcBounds.Dy()
	for y := 0; y < height; y++ {
		srcY := srcBounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			srcX := srcBounds.Min.X + x*srcW/width
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
