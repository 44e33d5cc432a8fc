// Package config loads the gateway setup configuration.
//
// A configuration file is YAML, or TOML when its extension is .toml. It is
// decoded once into Config; unknown keys and malformed values are reported
// as configuration errors instead of surfacing later as empty strings.
//
//	run_dir: .gwsetup
//	env_file: .env
//	required_env: [BACKEND_API_KEY]
//	aws:
//	  account_id: "123456789012"
//	  region: us-east-1
//	s3:
//	  bucket: gateway-schemas
//	retry:
//	  max_attempts: 3
//	  base_delay: 1s
//
// Relative paths are resolved against the directory of the configuration
// file. When no steps are declared, Pipeline derives the default gateway
// pipeline from the aws, s3 and gateway sections.
package config
