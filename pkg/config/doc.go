// Package config loads the server configuration.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file, and VBACKEND_* environment variables. Nested keys map to
// underscores, so store.backend is VBACKEND_STORE_BACKEND and
// consistency.lockTimeout is VBACKEND_CONSISTENCY_LOCKTIMEOUT.
//
// Example file:
//
//	server:
//	  addr: ":4290"
//	  corsOrigins: ["http://localhost:3000"]
//	store:
//	  backend: sqlite
//	database:
//	  sqlitePath: ./data/vbackend.db
//	snapshots:
//	  backend: s3
//	  s3:
//	    bucket: vbackend-snapshots
//	    endpoint: http://localhost:9000
//	    pathStyle: true
//	consistency:
//	  lockTimeout: 5s
//	  trackReads: true
//	seed:
//	  file: ./fixtures.yaml
package config
