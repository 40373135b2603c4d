// Package config loads the pipeline's environment-variable configuration:
// the recognition, segmentation, preprocessing and vad subsystems plus the
// worker-pool and batching knobs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

// RecognitionMode selects which backend is active for a session. Mode
// selection is mutually exclusive: exactly one is active at a time.
type RecognitionMode string

const (
	ModeFastLocal   RecognitionMode = "fast"
	ModePreciseHTTP RecognitionMode = "precise"
	ModeCloudHTTP   RecognitionMode = "cloud"
)

// Recognition holds the recognition/backend-selection subsystem.
type Recognition struct {
	Mode             RecognitionMode
	PreciseServerURL string
	OpenAIServerURL  string
	OpenAIAPIKey     string
	OpenAIModel      string
	TranslationModel string
	Language         string
	TargetLanguage   string
	DualLanguage     bool
	UseGPU           bool
	VADThreshold     float32
}

// Segmentation holds the segmenter subsystem.
type Segmentation struct {
	SegmentSizeMs      int
	SegmentOverlapMs   int // forced to 0 regardless of configured value
	MinSpeechSegmentMs int
	MaxSilenceMs       int
}

// Config is the fully resolved runtime configuration for one process.
type Config struct {
	Recognition   Recognition
	Segmentation  Segmentation
	Preprocessing audio.PreprocessorConfig
	VAD           audio.VADConfig
	Merger        pipeline.MergerConfig

	MaxParallelRequests int
	BatchEnabled        bool
	BatchIntervalMs     int
	BatchSize           int

	TempDir  string
	WsAddr   string
	LogLevel string
}

// Load reads environment variables (after an optional .env via godotenv in
// the caller) into a Config, applying defaults for any key left unset.
func Load() Config {
	cfg := Config{
		Recognition: Recognition{
			Mode:             RecognitionMode(getEnv("RECOGNITION_MODE", string(ModeFastLocal))),
			PreciseServerURL: getEnv("PRECISE_SERVER_URL", "http://127.0.0.1:8731"),
			OpenAIServerURL:  getEnv("OPENAI_SERVER_URL", "http://127.0.0.1:8732"),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:      getEnv("OPENAI_MODEL", "whisper-1"),
			TranslationModel: getEnv("TRANSLATION_MODEL", "gpt-4o-mini"),
			Language:         getEnv("LANGUAGE", "auto"),
			TargetLanguage:   os.Getenv("TARGET_LANGUAGE"),
			DualLanguage:     getBool("DUAL_LANGUAGE", false),
			UseGPU:           getBool("USE_GPU", false),
			VADThreshold:     float32(getFloat("VAD_ENERGY_THRESHOLD", 0.02)),
		},
		Segmentation: Segmentation{
			SegmentSizeMs:      getInt("SEGMENT_SIZE_MS", 3500),
			SegmentOverlapMs:   0,
			MinSpeechSegmentMs: getInt("MIN_SPEECH_SEGMENT_MS", 3000),
			MaxSilenceMs:       getInt("MAX_SILENCE_MS", 1500),
		},
		Preprocessing: loadPreprocessing(),
		VAD:           loadVAD(),
		Merger:        pipeline.DefaultMergerConfig(),

		MaxParallelRequests: getInt("MAX_PARALLEL_REQUESTS", 16),
		BatchEnabled:        getBool("ENABLE_BATCH_PROCESSING", false),
		BatchIntervalMs:     getInt("BATCH_INTERVAL_MS", 500),
		BatchSize:           getInt("BATCH_SIZE", 5),

		TempDir:  getEnv("SEGMENT_TEMP_DIR", ""),
		WsAddr:   getEnv("WS_ADDR", ":8733"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Merger.MaxWaitTime <= 0 {
		cfg.Merger.MaxWaitTime = 5000 * time.Millisecond
	}

	logrus.WithFields(logrus.Fields{
		"mode":            cfg.Recognition.Mode,
		"segment_size_ms": cfg.Segmentation.SegmentSizeMs,
	}).Debug("configuration loaded")

	return cfg
}

func loadPreprocessing() audio.PreprocessorConfig {
	d := audio.DefaultPreprocessorConfig()
	return audio.PreprocessorConfig{
		UsePreEmphasis:  getBool("USE_PRE_EMPHASIS", d.UsePreEmphasis),
		PreEmphasisCoef: float32(getFloat("PRE_EMPHASIS_COEF", float64(d.PreEmphasisCoef))),

		UseHighPass:    getBool("USE_HIGH_PASS", d.UseHighPass),
		HighPassCutoff: float32(getFloat("HIGH_PASS_CUTOFF", float64(d.HighPassCutoff))),

		UseAGC:      getBool("USE_AGC", d.UseAGC),
		TargetLevel: float32(getFloat("TARGET_LEVEL", float64(d.TargetLevel))),
		MinGain:     float32(getFloat("MIN_GAIN", float64(d.MinGain))),
		MaxGain:     float32(getFloat("MAX_GAIN", float64(d.MaxGain))),
		AttackTime:  float32(getFloat("ATTACK_TIME", float64(d.AttackTime))),
		ReleaseTime: float32(getFloat("RELEASE_TIME", float64(d.ReleaseTime))),

		UseCompression:       getBool("USE_COMPRESSION", d.UseCompression),
		CompressionThreshold: float32(getFloat("COMPRESSION_THRESHOLD", float64(d.CompressionThreshold))),
		CompressionRatio:     float32(getFloat("COMPRESSION_RATIO", float64(d.CompressionRatio))),

		UseNoiseSuppression:      getBool("USE_NOISE_SUPPRESSION", d.UseNoiseSuppression),
		NoiseSuppressionStrength: float32(getFloat("NOISE_SUPPRESSION_STRENGTH", float64(d.NoiseSuppressionStrength))),
		NoiseSuppressionMixRatio: float32(getFloat("NOISE_SUPPRESSION_MIX_RATIO", float64(d.NoiseSuppressionMixRatio))),
		UseAdaptiveSuppression:   getBool("USE_ADAPTIVE_SUPPRESSION", d.UseAdaptiveSuppression),

		UseFinalGain:    getBool("USE_FINAL_GAIN", d.UseFinalGain),
		FinalGainFactor: float32(getFloat("FINAL_GAIN_FACTOR", float64(d.FinalGainFactor))),
	}
}

func loadVAD() audio.VADConfig {
	d := audio.DefaultVADConfig()
	return audio.VADConfig{
		Mode:                  audio.VADMode(getInt("VAD_MODE", int(d.Mode))),
		MinVoiceFrames:        getInt("VAD_MIN_VOICE_FRAMES", d.MinVoiceFrames),
		VoiceHoldFrames:       getInt("VAD_VOICE_HOLD_FRAMES", d.VoiceHoldFrames),
		RequiredSilenceFrames: getInt("VAD_REQUIRED_SILENCE_FRAMES", d.RequiredSilenceFrames),
		InitialThreshold:      float32(getFloat("VAD_ENERGY_THRESHOLD", float64(d.InitialThreshold))),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid boolean config value, using default")
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logrus.WithField("key", key).Warn("invalid integer config value, using default")
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid float config value, using default")
		return def
	}
	return f
}
