package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/config"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/logger"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/nvr-ai/go-seg/render"
	"github.com/nvr-ai/go-seg/util"
)

// options holds the command line flags. Flags that were set override the config file.
type options struct {
	configPath string
	modelPath  string
	labelsPath string
	imagePath  string
	dirPath    string
	outputDir  string
	backend    string
	confidence float64
	iou        float64
	skipMasks  bool
	benchmark  int
	warmup     int
	logLevel   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&opts.modelPath, "model", "", "Path to YOLO segmentation ONNX model file")
	flag.StringVar(&opts.labelsPath, "labels", "", "Path to label file, one class name per line (default: COCO)")
	flag.StringVar(&opts.imagePath, "image", "", "Path to image file (.jpg, .jpeg, .png)")
	flag.StringVar(&opts.dirPath, "dir", "", "Directory of images to segment")
	flag.StringVar(&opts.outputDir, "output-dir", "", "Write annotated images to this directory")
	flag.StringVar(&opts.backend, "backend", "", "Execution provider: cpu, cuda, coreml, openvino")
	flag.Float64Var(&opts.confidence, "confidence", 0, "Confidence threshold")
	flag.Float64Var(&opts.iou, "iou", 0, "NMS IoU threshold")
	flag.BoolVar(&opts.skipMasks, "skip-masks", false, "Skip mask decoding")
	flag.IntVar(&opts.benchmark, "benchmark", 0, "Run the engine alone this many times and exit")
	flag.IntVar(&opts.warmup, "warmup", 3, "Warmup runs before -benchmark")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer log.Sync()

	provider, err := cfg.Engine.Provider()
	if err != nil {
		return err
	}
	engine, err := providers.NewONNXEngine(provider, cfg.Engine.ONNXEngineConfig())
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	builder := inference.NewSessionBuilder().
		WithEngine(engine).
		WithNMSConfig(cfg.NMSConfig()).
		WithLogger(log)
	if cfg.LabelsPath != "" {
		builder = builder.WithLabelsFile(cfg.LabelsPath)
	} else {
		builder = builder.WithLabels(inference.COCOLabels())
	}
	session, err := builder.Build()
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	defer session.Close()

	log.Info("engine ready",
		"backend", string(provider.Backend()),
		"model", cfg.Engine.ModelPath,
		"input_size", session.EngineInfo().InputSize,
	)

	if opts.benchmark > 0 {
		timing, err := session.BenchmarkEngine(ctx, opts.warmup, opts.benchmark)
		if err != nil {
			return err
		}
		fmt.Printf("engine: avg %.2fms, %.1f FPS over %d runs\n", timing.Engine, timing.FPS(), opts.benchmark)
		return nil
	}

	files, err := inputFiles(opts)
	if err != nil {
		return err
	}
	if opts.outputDir != "" {
		if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}

	prof := profiler.NewStageProfiler(len(files))
	inferOpts := inference.InferOptions{SkipMasks: cfg.Postprocess.SkipMasks}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		if err := segmentFile(ctx, session, path, opts.outputDir, inferOpts, prof, log); err != nil {
			log.Error("segmentation failed", "path", path, "error", err)
		}
	}

	prof.Report(log)
	return nil
}

// segmentFile runs one image through the session, prints its detections and
// optionally writes the annotated image.
func segmentFile(
	ctx context.Context,
	session inference.Session,
	path, outputDir string,
	opts inference.InferOptions,
	prof *profiler.StageProfiler,
	log *logger.Logger,
) error {
	result, err := session.InferFile(ctx, path, opts)
	if err != nil {
		return err
	}
	defer result.Release()
	prof.Record(result)

	fmt.Printf("%s: %d detections (%s)\n", path, result.Count, result.Timing)
	for i, d := range result.Detections {
		fmt.Printf("  %-14s %.2f %v\n", d.Label, d.Confidence, result.Rect(i))
	}

	if outputDir == "" {
		return nil
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(outputDir, stem+"_seg.png")
	if err := render.SaveResultImage(path, result, nil, out); err != nil {
		return err
	}
	log.Debug("annotated image saved", "path", out)
	return nil
}

// loadConfig reads the config file, if any, and applies the flags that were set.
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Engine.ModelPath = opts.modelPath
		case "labels":
			cfg.LabelsPath = opts.labelsPath
		case "backend":
			cfg.Engine.Backend = opts.backend
		case "confidence":
			cfg.Postprocess.ConfidenceThreshold = float32(opts.confidence)
		case "iou":
			cfg.Postprocess.IoUThreshold = float32(opts.iou)
		case "skip-masks":
			cfg.Postprocess.SkipMasks = opts.skipMasks
		case "log-level":
			cfg.Log.Level = opts.logLevel
		}
	})

	if cfg.Engine.ModelPath == "" {
		return nil, errors.New("no model: set -model or engine.model_path")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// inputFiles resolves -image and -dir into the list of files to segment.
func inputFiles(opts options) ([]string, error) {
	switch {
	case opts.imagePath != "" && opts.dirPath != "":
		return nil, errors.New("cannot specify both -image and -dir")
	case opts.imagePath != "":
		if !util.IsImageFile(opts.imagePath) {
			return nil, errors.Errorf(
				"unsupported file extension: %s. Supported extensions: %v",
				filepath.Ext(opts.imagePath), util.ImageExtensions,
			)
		}
		return []string{opts.imagePath}, nil
	case opts.dirPath != "":
		files, err := util.ListDirectoryImageFiles(opts.dirPath)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, errors.Errorf("no images in %s", opts.dirPath)
		}
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		return paths, nil
	}
	return nil, errors.New("no input: set -image or -dir")
}
