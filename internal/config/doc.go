// Package config loads storefront client configuration.
//
// # Resolution Order
//
//  1. A .env file (LoadEnvFile) seeds the process environment, if present
//  2. The TOML file at the given path, or ~/.config/storefront/config.toml
//  3. Missing file or empty fields fall back to defaults
//  4. STOREFRONT_* environment variables override file values
//
// A missing config file is not an error, so the client works out of the box
// against a local API.
//
// # TOML Format
//
//	api_url = "http://localhost:5000/api"
//	storage = "file"            # file, redis or memory
//	state_path = "~/.local/share/storefront/state.toml"
//	namespace = "storefront"
//	redis_addr = "127.0.0.1:6379"
//	log_level = "info"
//	log_format = "console"      # console or json
//	log_output = "stderr"       # stdout, stderr or a file path
//	request_timeout = "10s"
//	remote_rate = 10.0          # mirror calls per second, 0 disables limiting
//	retry_interval = "5s"
//	min_order_total = "0.01"
//	merge_policy = "max"        # max, local, remote or sum
//	merge_concurrency = 4       # parallel pushes after the login merge
//
// Durations accept Go duration strings or a bare number of seconds. Paths
// get tilde expansion and are made absolute.
//
// # Errors
//
// Load fails on unreadable files, TOML syntax errors (mentioning "parse
// config"), invalid durations or totals, unknown storage backends and
// unknown merge policies.
package config
