// Package config loads the controller configuration.
//
// Configuration lives in a single directory (default ~/.config/testfleet):
//
//	config.yaml      controller settings, overlaid on the defaults
//	machines/*.yaml  machine descriptions seeded into the catalog on start
//
// A missing config.yaml means defaults. Relative paths in config.yaml are
// resolved against the configuration directory; data paths left empty
// default to subdirectories of dataDir.
//
// Example:
//
//	cycle:
//	  interval: 10s
//	  maxKeepAliveFailures: 10
//	controller:
//	  shutdownPolicy: on-failure
//	catalog:
//	  driver: sqlite
//	server:
//	  port: 8095
//	hypervisor:
//	  commands:
//	    state: 'vmctl state {{ shq .Image }}'
//	    start: 'vmctl start {{ shq .Image }}'
package config
