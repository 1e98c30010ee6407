package inference

import (
	"context"
	"image"
	_ "image/jpeg" // register decoders for InferFile
	_ "image/png"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/logger"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/nvr-ai/go-seg/models/model/preprocess"
	"github.com/nvr-ai/go-seg/models/postprocess"
)

// InferOptions adjusts a single inference call.
type InferOptions struct {
	// SkipMasks omits mask decoding; detections then carry no mask.
	SkipMasks bool
}

// Session is an inference handle bound to one engine and label map.
//
// Calls on one Session are serialized. Each call fully owns the session's scratch
// buffers while it runs; results are copied out before it returns.
type Session interface {
	// Infer runs the pipeline on a decoded image. Timing.ImageRead is 0.
	Infer(ctx context.Context, img image.Image, opts InferOptions) (*ResultSet, error)
	// InferFile reads and decodes the image at path, then runs Infer.
	InferFile(ctx context.Context, path string, opts InferOptions) (*ResultSet, error)
	// InferBatch runs up to Layout().Batch images through one engine run.
	InferBatch(ctx context.Context, imgs []image.Image, opts InferOptions) ([]*ResultSet, error)
	// BenchmarkEngine times the engine alone and returns the average run.
	BenchmarkEngine(ctx context.Context, warmup, iterations int) (Timing, error)
	// EngineInfo reports tensor sizes.
	EngineInfo() EngineInfo
	// Labels returns the read-only label map.
	Labels() LabelMap
	// Close releases the engine. It is safe to call more than once.
	Close() error
}

// SessionBuilder builds a Session with a fluent API. The first failing step sticks
// and is returned by Build.
type SessionBuilder struct {
	engine Engine
	labels LabelMap
	nms    postprocess.NMSConfig
	log    *logger.Logger
	err    error
}

// NewSessionBuilder creates a new session builder with default NMS settings.
//
// Returns:
//   - *SessionBuilder: The session builder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{
		nms: postprocess.DefaultNMSConfig(),
		log: logger.NewNopLogger(),
	}
}

// WithEngine sets the engine. The session takes ownership and closes it; so does a
// failing Build.
func (b *SessionBuilder) WithEngine(engine Engine) *SessionBuilder {
	if engine == nil {
		b.setErr(invalidArgument("engine is nil"))
		return b
	}
	b.engine = engine
	return b
}

// WithLabels sets the label map. The map must not be modified afterwards.
func (b *SessionBuilder) WithLabels(labels LabelMap) *SessionBuilder {
	b.labels = labels
	return b
}

// WithLabelsFile loads the label map from a file.
//
// Arguments:
//   - path: The label file, one name per line.
//
// Returns:
//   - *SessionBuilder: The session builder.
func (b *SessionBuilder) WithLabelsFile(path string) *SessionBuilder {
	if b.HasError() {
		return b
	}
	labels, err := LoadLabels(path)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.labels = labels
	return b
}

// WithNMSConfig sets the parsing and suppression thresholds.
func (b *SessionBuilder) WithNMSConfig(cfg postprocess.NMSConfig) *SessionBuilder {
	if cfg.IoUThreshold < 0 || cfg.IoUThreshold > 1 {
		b.setErr(invalidArgument("iou threshold %v outside [0,1]", cfg.IoUThreshold))
		return b
	}
	b.nms = cfg
	return b
}

// WithLogger sets the logger.
func (b *SessionBuilder) WithLogger(log *logger.Logger) *SessionBuilder {
	if log != nil {
		b.log = log
	}
	return b
}

// HasError checks if the session builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *SessionBuilder) HasError() bool {
	return b.err != nil
}

func (b *SessionBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build builds the session. On failure the engine, if any, is closed and no session
// is returned.
//
// Returns:
//   - Session: The session.
//   - error: The first error recorded by the builder or found while building.
func (b *SessionBuilder) Build() (Session, error) {
	s, err := b.build()
	if err != nil && b.engine != nil {
		_ = b.engine.Close()
	}
	return s, err
}

func (b *SessionBuilder) build() (Session, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.engine == nil {
		return nil, invalidArgument("engine not configured")
	}
	if len(b.labels) == 0 {
		return nil, categorize(ErrResource, errors.New("no labels"), "labels not configured")
	}

	layout := b.engine.Layout()
	if err := layout.Validate(); err != nil {
		return nil, categorize(ErrInvalidArgument, err, "engine layout")
	}
	if b.nms.MaxDetections <= 0 || b.nms.MaxDetections > layout.MaxDetections {
		b.nms.MaxDetections = layout.MaxDetections
	}

	pre, err := preprocess.NewPreprocessor(preprocess.Config{
		InputWidth:  layout.InputWidth,
		InputHeight: layout.InputHeight,
	})
	if err != nil {
		return nil, categorize(ErrInvalidArgument, err, "preprocessor")
	}

	info := NewEngineInfo(layout)
	s := &session{
		engine:     b.engine,
		labels:     b.labels,
		nms:        b.nms,
		log:        b.log.With("component", "session"),
		pre:        pre,
		layout:     layout,
		info:       info,
		input:      make([]float32, info.InputSize),
		detections: make([]float32, info.DetectionsSize),
		prototypes: make([]float32, info.PrototypesSize),
	}

	b.log.Info("session created",
		"input", layout.InputShape(),
		"batch", layout.Batch,
		"labels", len(b.labels),
		"confidence_threshold", b.nms.ConfidenceThreshold,
		"iou_threshold", b.nms.IoUThreshold,
		"max_detections", b.nms.MaxDetections,
	)
	return s, nil
}

// session implements the Session interface.
type session struct {
	mu     sync.Mutex
	closed bool

	engine Engine
	labels LabelMap
	nms    postprocess.NMSConfig
	log    *logger.Logger
	pre    *preprocess.Preprocessor
	layout model.Layout
	info   EngineInfo

	// Host scratch buffers, reused by every call.
	input      []float32
	detections []float32
	prototypes []float32
}

func (s *session) Infer(
	ctx context.Context,
	img image.Image,
	opts InferOptions,
) (result *ResultSet, err error) {
	start := time.Now()
	defer recoverPanic(&err)

	if img == nil {
		return nil, invalidArgument("image is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := s.run(ctx, []image.Image{img}, opts, 0)
	if err != nil {
		return nil, err
	}
	results[0].Timing.Total = ElapsedMs(start)
	s.logResult(results[0])
	return results[0], nil
}

func (s *session) InferFile(
	ctx context.Context,
	path string,
	opts InferOptions,
) (result *ResultSet, err error) {
	start := time.Now()
	defer recoverPanic(&err)

	if path == "" {
		return nil, invalidArgument("image path is empty")
	}

	img, err := readImage(path)
	if err != nil {
		return nil, err
	}
	readMs := ElapsedMs(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := s.run(ctx, []image.Image{img}, opts, readMs)
	if err != nil {
		return nil, err
	}
	results[0].Timing.Total = ElapsedMs(start)
	s.logResult(results[0])
	return results[0], nil
}

func (s *session) InferBatch(
	ctx context.Context,
	imgs []image.Image,
	opts InferOptions,
) (results []*ResultSet, err error) {
	start := time.Now()
	defer recoverPanic(&err)

	if len(imgs) == 0 {
		return nil, invalidArgument("no images")
	}
	if len(imgs) > s.layout.Batch {
		return nil, invalidArgument("%d images exceed batch size %d", len(imgs), s.layout.Batch)
	}
	for i, img := range imgs {
		if img == nil {
			return nil, invalidArgument("image %d is nil", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results, err = s.run(ctx, imgs, opts, 0)
	if err != nil {
		return nil, err
	}
	total := ElapsedMs(start)
	for _, r := range results {
		r.Timing.Total = total
		s.logResult(r)
	}
	return results, nil
}

// run executes preprocess, engine, copy and postprocess for imgs. The caller holds
// s.mu. Every returned result shares the stage timings of the batch.
func (s *session) run(
	ctx context.Context,
	imgs []image.Image,
	opts InferOptions,
	readMs float64,
) ([]*ResultSet, error) {
	if s.closed {
		return nil, ErrClosed
	}

	timing := Timing{ImageRead: readMs}

	// Preprocess.
	stage := time.Now()
	perImage := s.layout.ImageInputSize()
	letterboxes := make([]images.Letterbox, len(imgs))
	for i, img := range imgs {
		lb, err := s.pre.Letterbox(img, s.input[i*perImage:(i+1)*perImage])
		if err != nil {
			return nil, categorize(ErrInvalidArgument, err, "preprocess")
		}
		letterboxes[i] = lb
	}
	clear(s.input[len(imgs)*perImage:])
	timing.Preprocess = ElapsedMs(stage)

	// Engine. Run returns once both outputs are complete.
	stage = time.Now()
	out, err := s.engine.Run(ctx, s.input)
	if err != nil {
		return nil, categorize(ErrInternal, err, "engine run")
	}
	timing.Engine = ElapsedMs(stage)

	// Copy outputs into host buffers owned by this session.
	stage = time.Now()
	if len(out.Detections) < len(s.detections) || len(out.Prototypes) < len(s.prototypes) {
		return nil, categorize(ErrInternal, errors.Errorf(
			"got %d detection and %d prototype floats, want %d and %d",
			len(out.Detections), len(out.Prototypes), len(s.detections), len(s.prototypes),
		), "engine outputs")
	}
	copy(s.detections, out.Detections)
	copy(s.prototypes, out.Prototypes)
	timing.ResultCopy = ElapsedMs(stage)

	// Postprocess.
	stage = time.Now()
	batches, err := postprocess.BatchParseAndSuppress(
		s.detections, len(imgs), s.layout.DetectionStride(), s.nms,
	)
	if err != nil {
		return nil, categorize(ErrInternal, err, "parse detections")
	}

	decoded := make([][]*images.Mask, len(batches))
	for i, dets := range batches {
		masks, err := s.decodeMasks(i, dets, opts)
		if err != nil {
			for _, m := range decoded {
				releaseMasks(m)
			}
			return nil, err
		}
		decoded[i] = masks
	}
	timing.Postprocess = ElapsedMs(stage)

	results := make([]*ResultSet, 0, len(imgs))
	for i, dets := range batches {
		r, err := NewResultBuilder(s.labels, letterboxes[i]).
			WithDetections(dets, decoded[i]).
			WithTiming(timing).
			Build()
		releaseMasks(decoded[i])
		if err != nil {
			for _, m := range decoded[i+1:] {
				releaseMasks(m)
			}
			releaseAll(results)
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// decodeMasks decodes scratch masks for image i, or returns nil when masks are
// skipped or there is nothing to decode.
func (s *session) decodeMasks(
	i int,
	dets []postprocess.Detection,
	opts InferOptions,
) ([]*images.Mask, error) {
	if opts.SkipMasks || len(dets) == 0 {
		return nil, nil
	}

	size := s.layout.PrototypeSize()
	proto, err := postprocess.NewPrototype(
		s.prototypes[i*size:(i+1)*size],
		postprocess.MaskCoefficients,
		s.layout.PrototypeHeight(),
		s.layout.PrototypeWidth(),
	)
	if err != nil {
		return nil, categorize(ErrInternal, err, "prototype tensor")
	}

	masks, err := postprocess.DecodeMasks(proto, dets, s.layout.InputWidth, s.layout.InputHeight)
	if err != nil {
		return nil, categorize(ErrInternal, err, "decode masks")
	}
	return masks, nil
}

func (s *session) BenchmarkEngine(
	ctx context.Context,
	warmup, iterations int,
) (timing Timing, err error) {
	defer recoverPanic(&err)

	if warmup < 0 || iterations <= 0 {
		return Timing{}, invalidArgument("warmup %d, iterations %d", warmup, iterations)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Timing{}, ErrClosed
	}

	for i := 0; i < warmup; i++ {
		if _, err := s.engine.Run(ctx, s.input); err != nil {
			return Timing{}, categorize(ErrInternal, err, "warmup run")
		}
	}

	var sum float64
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if _, err := s.engine.Run(ctx, s.input); err != nil {
			return Timing{}, categorize(ErrInternal, err, "benchmark run")
		}
		sum += ElapsedMs(start)
	}

	avg := sum / float64(iterations)
	s.log.Info("engine benchmark",
		"warmup", warmup,
		"iterations", iterations,
		"avg_ms", avg,
		"fps", 1000/avg,
	)
	return Timing{Total: avg, Engine: avg}, nil
}

func (s *session) EngineInfo() EngineInfo {
	return s.info
}

func (s *session) Labels() LabelMap {
	return s.labels
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.input = nil
	s.detections = nil
	s.prototypes = nil

	s.log.Info("session closed")
	if err := s.engine.Close(); err != nil {
		return categorize(ErrResource, err, "close engine")
	}
	return nil
}

func (s *session) logResult(r *ResultSet) {
	s.log.With("id", r.ID.String()).Debug("inference complete",
		"detections", r.Count,
		"total_ms", r.Timing.Total,
		"image_read_ms", r.Timing.ImageRead,
		"preprocess_ms", r.Timing.Preprocess,
		"engine_ms", r.Timing.Engine,
		"result_copy_ms", r.Timing.ResultCopy,
		"postprocess_ms", r.Timing.Postprocess,
	)
}

// readImage opens and decodes an image file.
func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, categorize(ErrResource, err, "open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, categorize(ErrResource, err, "decode image "+path)
	}
	return img, nil
}

func releaseMasks(masks []*images.Mask) {
	for _, m := range masks {
		m.Release()
	}
}

func releaseAll(results []*ResultSet) {
	for _, r := range results {
		r.Release()
	}
}
