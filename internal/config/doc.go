// Package config loads and validates acp-host configuration from YAML.
//
// The file declares the roster of launchable agents plus persistence,
// session, and logging settings. ${VAR} references expand from the
// environment before parsing. Agent entries missing an id or command, or
// explicitly disabled, are dropped at load time so one bad entry never
// takes down the host.
package config
