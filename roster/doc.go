// Package roster provides types.RosterProvider implementations.
//
// Static holds roster data in memory and can be loaded from a YAML file.
// LMSClient talks to a Canvas-compatible REST API and refreshes its OAuth2
// token transparently once when the platform rejects it.
package roster
