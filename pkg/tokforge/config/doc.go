// Package config provides type-safe configuration extraction from
// map[string]any data, typically loaded from YAML or JSON files.
//
// Dataset descriptions tend to travel as loosely typed maps between
// training launchers, so every accessor takes a default and degrades
// gracefully on missing keys or wrong types:
//
//	cfg, err := config.FromFile("dataset.yaml")
//	if err != nil {
//		return err
//	}
//	seqLength := cfg.Int("seq_length", 2048)
//	seed := cfg.Int64("seed", 1234)
//	policy := cfg.String("packing", "packed")
//
// Numeric accessors accept int, int64 and float64 source values so the
// same keys work whether the map came from YAML, JSON or Go code.
package config
