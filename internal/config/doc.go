// ABOUTME: Package doc for configuration loading
// ABOUTME: Documents the YAML format, env expansion, and duration fields

// Package config loads the Skilloc server configuration from a YAML file.
//
// Environment variables in the form ${VAR_NAME} are expanded before
// parsing, so secrets stay out of the file:
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  driver: jsonfile   # or sqlite
//	  dir: ./data        # jsonfile data directory
//	  # path: ./skilloc.db   # sqlite database file
//
//	auth:
//	  jwt_secret: ${SKILLOC_JWT_SECRET}
//	  token_ttl: 24h
//
//	chat:
//	  handshake_timeout: 10s
//	  write_timeout: 10s
//	  pong_wait: 60s
//	  send_timeout: 15s
//	  max_message_size: 65536
//
//	static:
//	  enabled: true
//	  dir: ./public
//
//	logging:
//	  level: info
//	  format: text
//
// Duration fields are plain Go duration strings ("10s", "24h"). Zero or
// missing chat durations fall back to built-in defaults.
package config
