// Package config loads the JSON configuration shared by the triage driver and
// the transaction tool server, fills in defaults, and loads the local .env
// file that carries dataset credentials.
package config
