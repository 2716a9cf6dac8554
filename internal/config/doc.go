// Package config loads and validates voicecap configuration.
// Values come from built-in defaults, an optional YAML file and
// VOICECAP_* environment variables, in that order of precedence.
package config
