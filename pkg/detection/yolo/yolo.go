// Package yolo runs YOLOv8 ONNX models through OpenCV's DNN module.
package yolo

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

// Config holds YOLO detector configuration
type Config struct {
	ModelPath        string
	LabelsPath       string // One class name per line; COCO names when empty
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultConfig returns production defaults for YOLOv8n trained on Open Images V7
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n-oiv7.onnx",
		LabelsPath:       "models/oiv7.names",
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector uses YOLOv8 for general object detection
type Detector struct {
	net       gocv.Net
	config    Config
	labels    []string
	mu        sync.Mutex
	inputSize image.Point
}

// New creates a new YOLO object detector
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", detection.ErrModelNotFound, cfg.ModelPath)
	}

	labels := COCOClasses
	if cfg.LabelsPath != "" {
		loaded, err := LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		labels = loaded
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Info("yolo model loaded", "model", cfg.ModelPath, "classes", len(labels))

	return &Detector{
		net:       net,
		config:    cfg,
		labels:    labels,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// LoadLabels reads class names, one per line.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			labels = append(labels, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// Detect finds objects in the JPEG image
func (d *Detector) Detect(ctx context.Context, jpeg []byte) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, detection.Failure("yolo", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, detection.Failure("yolo", fmt.Errorf("decode image: %w", err))
	}
	defer img.Close()

	if img.Empty() {
		return nil, detection.Failure("yolo", detection.ErrEmptyImage)
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	dets, err := d.parseOutput(output, imgW, imgH)
	if err != nil {
		return nil, detection.Failure("yolo", err)
	}

	log.Debug("yolo detections", "count", len(dets))
	return dets, nil
}

// parseOutput parses the YOLOv8 output tensor.
// Output shape: [1, 4+C, N] with C class scores per anchor.
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]detection.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", sizes)
	}
	cols := sizes[1] // 4 bbox + classes
	rows := sizes[2] // anchors

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < cols; c++ {
			score := data[c*rows+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < d.config.ConfidenceThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		rect := image.Rect(
			int((cx-w/2)*scaleX),
			int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX),
			int((cy+h/2)*scaleY),
		).Intersect(image.Rect(0, 0, int(imgW), int(imgH)))

		if rect.Empty() {
			continue
		}

		boxes = append(boxes, rect)
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return []detection.Detection{}, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	dets := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		dets = append(dets, detection.Detection{
			Label:      d.className(classIDs[idx]),
			Confidence: float64(confidences[idx]),
			Box: detection.Box{
				X1: float64(box.Min.X),
				Y1: float64(box.Min.Y),
				X2: float64(box.Max.X),
				Y2: float64(box.Max.Y),
			},
		})
	}
	return dets, nil
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.labels) {
		return d.labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
