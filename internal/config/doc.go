// Package config loads the connector's YAML file.
//
// Values may reference the environment as ${VAR}; bus addresses are usually
// supplied that way. Unknown keys are an error. LoadAndValidate runs the
// whole pipeline: Load, then defaults for every unset field, then Validate.
// configs/connector.example.yaml lists every key with its default.
package config
