// Package config loads the capabilities file and keeps the registry in step
// with it.
//
// The file has three sections:
//
//	router:
//	  max_retries: 2
//	  base_delay: 200ms
//	  max_delay: 5s
//	  default_timeout: 30s
//	sessions:
//	  idle_timeout: 30m
//	  history_limit: 10
//	  cleanup_interval: 1m
//	capabilities:
//	  - name: metrics-eu
//	    kind: metric-query
//	    config:
//	      endpoint: https://thanos.eu.example.com
//	      credential_ref: env:THANOS_TOKEN
//
// ${VAR} placeholders are replaced from the environment before parsing. A
// capability without a name is registered under its kind.
//
// Only the capabilities section is hot-reloaded. Router and session settings
// are read once at startup.
package config
