package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs", "openai"},
	"llm":        {"openai", "anthropic", "mistral", "groq", "ollama"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references in the document are expanded from the environment before
// decoding, so API keys and DSNs can stay out of the file itself.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}

	// The call path cannot run without transcription, synthesis, and
	// extraction.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}

	// Embeddings ↔ database dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Calls
	if cfg.Calls.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("calls.max_concurrent %d must not be negative", cfg.Calls.MaxConcurrent))
	}
	if cfg.Calls.SessionTimeout < 0 {
		errs = append(errs, errors.New("calls.session_timeout must not be negative"))
	}
	if cfg.Calls.OutboundQueueSize < 0 {
		errs = append(errs, fmt.Errorf("calls.outbound_queue_size %d must not be negative", cfg.Calls.OutboundQueueSize))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"calls.deadlines.extract", cfg.Calls.Deadlines.Extract},
		{"calls.deadlines.catalog", cfg.Calls.Deadlines.Catalog},
		{"calls.deadlines.stock", cfg.Calls.Deadlines.Stock},
		{"calls.deadlines.tts_first_chunk", cfg.Calls.Deadlines.TTSFirstChunk},
		{"calls.deadlines.sink", cfg.Calls.Deadlines.Sink},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	// Orders
	if cfg.Orders.ReviewTotalThreshold < 0 {
		errs = append(errs, fmt.Errorf("orders.review_total_threshold %.2f must not be negative", cfg.Orders.ReviewTotalThreshold))
	}
	if cfg.Orders.ReviewConfidenceFloor < 0 || cfg.Orders.ReviewConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("orders.review_confidence_floor %.2f is out of range [0, 1]", cfg.Orders.ReviewConfidenceFloor))
	}

	// Dialogue
	if cfg.Dialogue.Voice.SpeedFactor != 0 {
		if cfg.Dialogue.Voice.SpeedFactor < 0.5 || cfg.Dialogue.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("dialogue.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Dialogue.Voice.SpeedFactor))
		}
	}
	if cfg.Dialogue.Voice.Stability < 0 || cfg.Dialogue.Voice.Stability > 1 {
		errs = append(errs, fmt.Errorf("dialogue.voice.stability %.2f is out of range [0, 1]", cfg.Dialogue.Voice.Stability))
	}
	if cfg.Dialogue.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.Dialogue.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("dialogue voice provider does not match configured TTS provider",
			"voice_provider", cfg.Dialogue.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}
	seen := make(map[string]int, len(cfg.Dialogue.Keywords))
	for i, kw := range cfg.Dialogue.Keywords {
		prefix := fmt.Sprintf("dialogue.keywords[%d]", i)
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("%s.keyword is required", prefix))
			continue
		}
		if prev, ok := seen[kw.Keyword]; ok {
			errs = append(errs, fmt.Errorf("%s.keyword %q is a duplicate of dialogue.keywords[%d]", prefix, kw.Keyword, prev))
		}
		seen[kw.Keyword] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
