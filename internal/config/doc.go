// Package config handles configuration loading for dmsync.
//
// # Configuration File
//
// The CLI looks for its file in this order:
//
//  1. The --config flag
//  2. Path from DMSYNC_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/dmsync/config.yaml (or ~/.config/dmsync/config.yaml)
//
// A missing file is not an error; Default() is used instead. Files ending in
// .toml are decoded as TOML, anything else as YAML.
//
// # Environment
//
// A .env file beside the config file is loaded with godotenv before parsing.
// Values already present in the environment win. Config values can then
// reference environment variables:
//
//	session:
//	  local_user_id: "${DMSYNC_USER}"
//
// # Configuration Sections
//
//	database:
//	  path: "dmsync.db"
//	session:
//	  local_user_id: "alice"
//	feed:
//	  buffer_size: 64
//	dedupe:
//	  ttl: "0s"        # 0 keeps applied ids until evicted by size
//	  max_size: 50000
//	preview:
//	  max_runes: 80
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
package config
