// Package config loads the pipeline configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Default() values
//  2. a YAML file (rbi.yaml, configs/rbi.yaml, or an explicit path)
//  3. environment variables prefixed RBI_ (RBI_LLM_TOKEN_BUDGET=200000)
//
// A .env file in the working directory is read before the environment layer
// is applied. Variables already present in the environment are not replaced,
// so provider keys exported in the shell take precedence over the file.
//
// Command-line flags are applied by cmd/rbi on top of the loaded Config and
// the result is checked again with Validate.
package config
