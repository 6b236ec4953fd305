// Package config loads and validates engine configuration.
//
// Configuration is read with Viper from config.yml (searched under
// ./cmd/<service>/ and the working directory), then overridden by
// POSTR_-prefixed environment variables, optionally seeded from a .env file.
// POSTR_ENGINE_MAX_IN_FLIGHT=8 maps to engine.max_in_flight.
//
// # Usage
//
//	var cfg AppConfig
//	if err := config.LoadConfig("postr-engine", &cfg); err != nil { ... }
//
// Stage parameters are served by Params, a typed, defaulted store that
// records every parameter a stage reads together with its description.
package config
