// Package config provides centralized configuration management for polarcli.
// It loads configuration from multiple sources, validates it, and exposes a
// type-safe API for the rest of the application.
//
// # Configuration Sources
//
// Defaults are overlaid by the YAML file (--config, polar.yaml or
// configs/polar.yaml) and then by environment variables, which win.
//
// # Environment Variables
//
// All environment variables follow the pattern POLAR_<SECTION>_<FIELD>:
//
//	POLAR_SERVER_PORT=8080
//	POLAR_LOGGING_LEVEL=debug
//	POLAR_INGEST_ENCODINGS=utf-8,gbk,utf-16le
//	POLAR_INGEST_DETECTION_THRESHOLD=0.7
//	POLAR_ENGINE_STRICT_NUMERICS=true
//	POLAR_BATCH_WORKERS=8
//
// # Paths
//
// Directories are resolved by ResolvePaths. Relative entries are joined to
// paths.base_dir, which defaults to the executable directory.
package config
