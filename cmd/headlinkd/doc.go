// Command headlinkd runs the headlink backend: the fabric routes served by a
// connection provider, with UDP channels handed to paired heads.
//
// Usage:
//
//	headlinkd [-config headlink.toml] [-port 12345] [-log-level info] [-log-format text]
//
// Settings come from the TOML file, then the HEADLINK_PORT environment
// variable, then flags. SIGINT or SIGTERM starts a graceful shutdown bounded by
// server.shutdown_timeout.
package main
