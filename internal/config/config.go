package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ErrLookupURLMissing is returned by Validate when no IIN lookup service is
// configured.
var ErrLookupURLMissing = errors.New("config: network.lookup_url is required (set BINLIST_API_URL)")

// Environment variables that override file settings.
const (
	EnvLookupURL       = "BINLIST_API_URL"
	EnvCardDetector    = "YOLO_CARD_DETECTOR"
	EnvElementDetector = "YOLO_CARD_ELEMENT_DETECTOR"
	EnvClassifier      = "YOLO_PAYMENT_NETWORK_CLASSIFIER"
	EnvOnnxRuntime     = "ONNXRUNTIME_LIB"
	EnvAddr            = "CARD_ANALYZER_ADDR"
	EnvLogLevel        = "LOG_LEVEL"
)

// Config holds the application configuration
type Config struct {
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	Detection DetectionConfig `json:"detection"`
	Network   NetworkConfig   `json:"network"`
	OCR       OCRConfig       `json:"ocr"`
	Vision    VisionConfig    `json:"vision"`
	Zones     ZonesConfig     `json:"zones"`
	Server    ServerConfig    `json:"server"`
	Output    OutputConfig    `json:"output"`
	Log       LogConfig       `json:"log"`
}

// AnalyzerConfig holds input validation settings
type AnalyzerConfig struct {
	SupportedFormats []string `json:"supported_formats"`
	MinImageSize     int      `json:"min_image_size"`
	MaxPixels        int      `json:"max_pixels"`
}

// DetectionConfig selects and tunes the card and element detectors
type DetectionConfig struct {
	// Backend is yolo, ollama or llamacpp.
	Backend        string  `json:"backend"`
	CardModel      string  `json:"card_model"`
	ElementModel   string  `json:"element_model"`
	OnnxRuntimeLib string  `json:"onnxruntime_lib"`
	InputSize      int     `json:"input_size"`
	Confidence     float64 `json:"confidence"`
	IoUThreshold   float64 `json:"iou_threshold"`
	Threads        int     `json:"threads"`
}

// NetworkConfig holds payment network resolution settings
type NetworkConfig struct {
	LookupURL             string `json:"lookup_url"`
	LookupTimeoutSeconds  int    `json:"lookup_timeout_seconds"`
	LookupUnmappedAsCabal bool   `json:"lookup_unmapped_as_cabal"`
	// Classifier is yolo, vision or none.
	Classifier      string  `json:"classifier"`
	ClassifierModel string  `json:"classifier_model"`
	ReferencesDir   string  `json:"references_dir"`
	LoweRatio       float64 `json:"lowe_ratio"`
	MinMatches      int     `json:"min_matches"`
}

// OCRConfig holds tesseract settings
type OCRConfig struct {
	Languages   []string `json:"languages"`
	Whitelist   string   `json:"whitelist"`
	PageSegMode int      `json:"page_seg_mode"`
	PoolSize    int      `json:"pool_size"`
	Contrast    float64  `json:"contrast"`
}

// VisionConfig configures the vision language model server used by the
// ollama and llamacpp backends
type VisionConfig struct {
	URL           string  `json:"url"`
	Model         string  `json:"model"`
	LogoModel     string  `json:"logo_model"`
	SendSize      int     `json:"send_size"`
	MinConfidence float64 `json:"min_confidence"`
}

// ZonesConfig points to a zone map file; empty uses the built-in maps
type ZonesConfig struct {
	File string `json:"file"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr           string `json:"addr"`
	MaxUploadMB    int    `json:"max_upload_mb"`
	RequestTimeout int    `json:"request_timeout_seconds"`
}

// OutputConfig holds configuration for debug output
type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	OutputDir     string `json:"output_dir"`
	Suffix        string `json:"suffix"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			SupportedFormats: []string{"jpg", "jpeg", "png", "webp"},
			MinImageSize:     100,
			MaxPixels:        40_000_000,
		},
		Detection: DetectionConfig{
			Backend:      "yolo",
			CardModel:    "models/card_detector.onnx",
			ElementModel: "models/card_element_detector.onnx",
			InputSize:    640,
			Confidence:   0.25,
			IoUThreshold: 0.5,
		},
		Network: NetworkConfig{
			LookupTimeoutSeconds: 5,
			Classifier:           "yolo",
			ClassifierModel:      "models/payment_network_classifier.onnx",
			ReferencesDir:        "references",
			LoweRatio:            0.7,
			MinMatches:           20,
		},
		OCR: OCRConfig{
			Languages:   []string{"eng"},
			PageSegMode: 6,
			PoolSize:    2,
			Contrast:    1.5,
		},
		Vision: VisionConfig{
			URL:           "http://localhost:11434",
			Model:         "qwen2.5vl:7b",
			SendSize:      1024,
			MinConfidence: 0.3,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadMB:    10,
			RequestTimeout: 60,
		},
		Output: OutputConfig{
			DefaultFormat: "jpg",
			OutputDir:     "./output",
			Suffix:        "_debug",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env files, the optional JSON file at path and the
// environment, in that order, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Network.LookupURL, EnvLookupURL)
	set(&c.Detection.CardModel, EnvCardDetector)
	set(&c.Detection.ElementModel, EnvElementDetector)
	set(&c.Network.ClassifierModel, EnvClassifier)
	set(&c.Detection.OnnxRuntimeLib, EnvOnnxRuntime)
	set(&c.Server.Addr, EnvAddr)
	set(&c.Log.Level, EnvLogLevel)
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.LookupURL) == "" {
		return ErrLookupURLMissing
	}

	if c.Analyzer.MinImageSize < 1 {
		return fmt.Errorf("analyzer.min_image_size must be positive")
	}

	if len(c.Analyzer.SupportedFormats) == 0 {
		return fmt.Errorf("analyzer.supported_formats cannot be empty")
	}

	switch c.Detection.Backend {
	case "yolo":
		if c.Detection.CardModel == "" {
			return fmt.Errorf("detection.card_model is required for the yolo backend")
		}
	case "ollama", "llamacpp":
		if c.Vision.URL == "" || c.Vision.Model == "" {
			return fmt.Errorf("vision.url and vision.model are required for the %s backend", c.Detection.Backend)
		}
	default:
		return fmt.Errorf("detection.backend must be yolo, ollama or llamacpp, got %q", c.Detection.Backend)
	}

	if c.Detection.IoUThreshold <= 0 || c.Detection.IoUThreshold > 1 {
		return fmt.Errorf("detection.iou_threshold must be between 0 and 1")
	}

	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be between 0 and 1")
	}

	switch c.Network.Classifier {
	case "yolo":
		if c.Network.ClassifierModel == "" {
			return fmt.Errorf("network.classifier_model is required for the yolo classifier")
		}
	case "vision", "none", "":
	default:
		return fmt.Errorf("network.classifier must be yolo, vision or none, got %q", c.Network.Classifier)
	}

	if c.Network.LoweRatio <= 0 || c.Network.LoweRatio > 1 {
		return fmt.Errorf("network.lowe_ratio must be between 0 and 1")
	}

	if c.Network.MinMatches < 1 {
		return fmt.Errorf("network.min_matches must be positive")
	}

	if c.OCR.PoolSize < 1 {
		return fmt.Errorf("ocr.pool_size must be positive")
	}

	if c.OCR.Contrast <= 0 {
		return fmt.Errorf("ocr.contrast must be positive")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "card-analyzer", "config.json")
}
