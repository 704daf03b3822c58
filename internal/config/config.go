// Package config loads bsort settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// DefaultPath is where the CLI looks for settings when --config is not given.
const DefaultPath = "configs/settings.yaml"

// EnvPrefix prefixes environment overrides, e.g. BSORT_DATASET_IMG_SIZE.
const EnvPrefix = "BSORT"

// ErrConfigNotFound is returned when the settings file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalid is returned when the settings file fails to parse or validate.
var ErrInvalid = errors.New("invalid settings")

// Settings is the full bsort configuration.
type Settings struct {
	ProjectName string          `mapstructure:"project_name" yaml:"project_name" json:"project_name"`
	ExpName     string          `mapstructure:"exp_name"     yaml:"exp_name"     json:"exp_name"`
	Dataset     DatasetConfig   `mapstructure:"dataset"      yaml:"dataset"      json:"dataset"`
	Train       TrainConfig     `mapstructure:"train"        yaml:"train"        json:"train"`
	Export      ExportConfig    `mapstructure:"export"       yaml:"export"       json:"export"`
	Inference   InferenceConfig `mapstructure:"inference"    yaml:"inference"    json:"inference"`
	Artifacts   ArtifactsConfig `mapstructure:"artifacts"    yaml:"artifacts"    json:"artifacts"`
	Camera      CameraConfig    `mapstructure:"camera"       yaml:"camera"       json:"camera"`
	Tracking    TrackingConfig  `mapstructure:"tracking"     yaml:"tracking"     json:"tracking"`
	Bridge      BridgeConfig    `mapstructure:"bridge"       yaml:"bridge"       json:"bridge"`
	Logging     LoggingConfig   `mapstructure:"logging"      yaml:"logging"      json:"logging"`
	Server      ServerConfig    `mapstructure:"server"       yaml:"server"       json:"server"`
}

// DatasetConfig points at the YOLO dataset description.
type DatasetConfig struct {
	Path    string `mapstructure:"path"     yaml:"path"     json:"path"`
	ImgSize int    `mapstructure:"img_size" yaml:"img_size" json:"img_size"`
}

// TrainConfig holds trainer hyper-parameters.
type TrainConfig struct {
	ModelName    string        `mapstructure:"model_name"    yaml:"model_name"    json:"model_name"`
	Epochs       int           `mapstructure:"epochs"        yaml:"epochs"        json:"epochs"`
	BatchSize    int           `mapstructure:"batch_size"    yaml:"batch_size"    json:"batch_size"`
	Device       string        `mapstructure:"device"        yaml:"device"        json:"device"`
	Patience     int           `mapstructure:"patience"      yaml:"patience"      json:"patience"`
	LearningRate float64       `mapstructure:"learning_rate" yaml:"learning_rate" json:"learning_rate"`
	Augment      AugmentConfig `mapstructure:"augment"       yaml:"augment"       json:"augment"`
}

// AugmentConfig holds the augmentation knobs passed to the trainer.
// Hue/saturation/value jitter is off by default because colour is the label.
type AugmentConfig struct {
	Mosaic  float64 `mapstructure:"mosaic"  yaml:"mosaic"  json:"mosaic"`
	Scale   float64 `mapstructure:"scale"   yaml:"scale"   json:"scale"`
	Degrees float64 `mapstructure:"degrees" yaml:"degrees" json:"degrees"`
	HSVH    float64 `mapstructure:"hsv_h"   yaml:"hsv_h"   json:"hsv_h"`
	HSVS    float64 `mapstructure:"hsv_s"   yaml:"hsv_s"   json:"hsv_s"`
	HSVV    float64 `mapstructure:"hsv_v"   yaml:"hsv_v"   json:"hsv_v"`
}

// ExportConfig controls conversion of the trained checkpoint.
type ExportConfig struct {
	Format  string `mapstructure:"format"  yaml:"format"  json:"format"`
	Half    bool   `mapstructure:"half"    yaml:"half"    json:"half"`
	Dynamic bool   `mapstructure:"dynamic" yaml:"dynamic" json:"dynamic"`
	Opset   int    `mapstructure:"opset"   yaml:"opset"   json:"opset"`
}

// InferenceConfig controls prediction.
type InferenceConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	IOUThreshold        float64 `mapstructure:"iou_threshold"        yaml:"iou_threshold"        json:"iou_threshold"`
	OutputDir           string  `mapstructure:"output_dir"           yaml:"output_dir"           json:"output_dir"`
	Warmup              int     `mapstructure:"warmup"               yaml:"warmup"               json:"warmup"`
}

// ArtifactsConfig describes where and how exported models are found.
type ArtifactsConfig struct {
	OptimizedPattern string   `mapstructure:"optimized_pattern" yaml:"optimized_pattern" json:"optimized_pattern"`
	StandardName     string   `mapstructure:"standard_name"     yaml:"standard_name"     json:"standard_name"`
	SearchPaths      []string `mapstructure:"search_paths"      yaml:"search_paths"      json:"search_paths"`
}

// CameraConfig controls still-frame capture for `infer --camera`.
type CameraConfig struct {
	Width        int     `mapstructure:"width"         yaml:"width"         json:"width"`
	Height       int     `mapstructure:"height"        yaml:"height"        json:"height"`
	WarmupFrames int     `mapstructure:"warmup_frames" yaml:"warmup_frames" json:"warmup_frames"`
	MaxFrames    int     `mapstructure:"max_frames"    yaml:"max_frames"    json:"max_frames"`
	StillPercent float64 `mapstructure:"still_percent" yaml:"still_percent" json:"still_percent"`
}

// TrackingConfig locates the local run ledger.
type TrackingConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path" json:"db_path"`
}

// BridgeConfig locates the Ultralytics command-line program.
type BridgeConfig struct {
	YOLOBin string        `mapstructure:"yolo_bin" yaml:"yolo_bin" json:"yolo_bin"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"  json:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	File  string `mapstructure:"file"  yaml:"file"  json:"file"`
	JSON  bool   `mapstructure:"json"  yaml:"json"  json:"json"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

// Default returns the settings used when a key is absent from the file.
func Default() *Settings {
	return &Settings{
		ProjectName: "Bottle-Cap-Detection",
		ExpName:     "production_build",
		Dataset: DatasetConfig{
			Path:    "datasets/bottle_caps/data.yaml",
			ImgSize: 320,
		},
		Train: TrainConfig{
			ModelName:    "yolov8n.pt",
			Epochs:       50,
			BatchSize:    16,
			Device:       "cpu",
			Patience:     15,
			LearningRate: 0.01,
			Augment: AugmentConfig{
				Mosaic: 0.0,
				Scale:  0.1,
			},
		},
		Export: ExportConfig{
			Format: "openvino",
			Half:   true,
			Opset:  12,
		},
		Inference: InferenceConfig{
			ConfidenceThreshold: 0.25,
			IOUThreshold:        0.45,
			OutputDir:           "runs/detect",
			Warmup:              3,
		},
		Artifacts: ArtifactsConfig{
			OptimizedPattern: "*openvino*",
			StandardName:     "best.pt",
			SearchPaths: []string{
				"runs/train/final_v8_optimized/weights",
				"runs/train/exp_yolo11_aug/weights",
				"runs/train/exp_final/weights",
			},
		},
		Camera: CameraConfig{
			Width:        640,
			Height:       480,
			WarmupFrames: 5,
			MaxFrames:    30,
			StillPercent: 1.0,
		},
		Tracking: TrackingConfig{
			DBPath: ".bsort/runs.db",
		},
		Bridge: BridgeConfig{
			YOLOBin: "yolo",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// newViper returns a viper instance with every default registered and
// environment overrides enabled.
func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("project_name", d.ProjectName)
	v.SetDefault("exp_name", d.ExpName)
	v.SetDefault("dataset.path", d.Dataset.Path)
	v.SetDefault("dataset.img_size", d.Dataset.ImgSize)
	v.SetDefault("train.model_name", d.Train.ModelName)
	v.SetDefault("train.epochs", d.Train.Epochs)
	v.SetDefault("train.batch_size", d.Train.BatchSize)
	v.SetDefault("train.device", d.Train.Device)
	v.SetDefault("train.patience", d.Train.Patience)
	v.SetDefault("train.learning_rate", d.Train.LearningRate)
	v.SetDefault("train.augment.mosaic", d.Train.Augment.Mosaic)
	v.SetDefault("train.augment.scale", d.Train.Augment.Scale)
	v.SetDefault("train.augment.degrees", d.Train.Augment.Degrees)
	v.SetDefault("train.augment.hsv_h", d.Train.Augment.HSVH)
	v.SetDefault("train.augment.hsv_s", d.Train.Augment.HSVS)
	v.SetDefault("train.augment.hsv_v", d.Train.Augment.HSVV)
	v.SetDefault("export.format", d.Export.Format)
	v.SetDefault("export.half", d.Export.Half)
	v.SetDefault("export.dynamic", d.Export.Dynamic)
	v.SetDefault("export.opset", d.Export.Opset)
	v.SetDefault("inference.confidence_threshold", d.Inference.ConfidenceThreshold)
	v.SetDefault("inference.iou_threshold", d.Inference.IOUThreshold)
	v.SetDefault("inference.output_dir", d.Inference.OutputDir)
	v.SetDefault("inference.warmup", d.Inference.Warmup)
	v.SetDefault("artifacts.optimized_pattern", d.Artifacts.OptimizedPattern)
	v.SetDefault("artifacts.standard_name", d.Artifacts.StandardName)
	v.SetDefault("artifacts.search_paths", d.Artifacts.SearchPaths)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.warmup_frames", d.Camera.WarmupFrames)
	v.SetDefault("camera.max_frames", d.Camera.MaxFrames)
	v.SetDefault("camera.still_percent", d.Camera.StillPercent)
	v.SetDefault("tracking.db_path", d.Tracking.DBPath)
	v.SetDefault("bridge.yolo_bin", d.Bridge.YOLOBin)
	v.SetDefault("bridge.timeout", d.Bridge.Timeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads, schema-checks and decodes the settings file at path.
// Keys absent from the file take their defaults; BSORT_* environment
// variables override both.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes settings from YAML bytes.
func Parse(data []byte) (*Settings, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrInvalid, err)
	}
	if raw != nil {
		if err := validateSchema(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &s, nil
}

// Validate checks the semantic constraints the schema cannot express.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.ExpName) == "" {
		return fmt.Errorf("exp_name must not be empty")
	}
	if s.Dataset.ImgSize <= 0 || s.Dataset.ImgSize%32 != 0 {
		return fmt.Errorf("dataset.img_size must be a positive multiple of 32, got %d", s.Dataset.ImgSize)
	}
	if s.Train.Epochs < 1 {
		return fmt.Errorf("train.epochs must be positive")
	}
	if s.Train.BatchSize == 0 || s.Train.BatchSize < -1 {
		return fmt.Errorf("train.batch_size must be positive or -1 (auto)")
	}
	if c := s.Inference.ConfidenceThreshold; c < 0 || c > 1 {
		return fmt.Errorf("inference.confidence_threshold must be between 0 and 1")
	}
	if c := s.Inference.IOUThreshold; c < 0 || c > 1 {
		return fmt.Errorf("inference.iou_threshold must be between 0 and 1")
	}
	if s.Inference.Warmup < 0 {
		return fmt.Errorf("inference.warmup must not be negative")
	}
	if s.Artifacts.StandardName == "" || s.Artifacts.OptimizedPattern == "" {
		return fmt.Errorf("artifacts.standard_name and artifacts.optimized_pattern are required")
	}
	return nil
}

// BaseDir is the directory the trainer writes experiments into.
func (s *Settings) BaseDir() string {
	return s.ProjectName
}
