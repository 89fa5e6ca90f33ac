// Package api exposes a small HTTP surface next to the driver: queries can be
// pushed into the inbox, recent runs read back from history, and the
// Prometheus metrics scraped.
package api
