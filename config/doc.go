// Package config loads process settings from the environment and the page
// service definition from a YAML file, and watches both the file and the
// template directory for changes.
package config
