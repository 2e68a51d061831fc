// Package config loads packetnet settings from TOML files and PACKETNET_*
// environment variables.
//
// Precedence, lowest to highest: Default, the file passed to Load, FromEnv,
// and finally whatever command-line flags the caller applies. Invalid
// environment values are logged and ignored; invalid file values are
// reported by Validate.
//
//	transport = "quic"
//	address = "localhost"
//	port = 27015
//	key = "secret"
//	poll_interval = "15ms"
//
//	[log]
//	level = "debug"
//	format = "json"
//	file = "/var/log/packetchat.log"
package config
