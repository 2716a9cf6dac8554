// Package server implements the HTTP API: health, statistics, configuration,
// cycle history, on-demand recording and Prometheus metrics.
package server
