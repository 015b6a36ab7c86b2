package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:                 30,
			CleanupIntervalHours: 12,
		},
		Storage: StorageConfig{
			Path:           "~/.local/share/memento",
			SQLiteFile:     "memento.db",
			SegmentDir:     "videos",
			VideoExtension: ".mp4",
			Driver:         "sqlite",
			BusyTimeoutMS:  5000,
		},
		Segments: SegmentsConfig{
			FramesPerSegment: 5,
		},
		Search: SearchConfig{
			Limit:         50,
			TopK:          20,
			MinSimilarity: 0.3,
		},
		Embeddings: EmbeddingsConfig{
			Enabled:   false,
			Provider:  "ollama",
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 16,
			Quantize:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "memento.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}
