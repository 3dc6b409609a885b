// Package http provides the REST surface of the extension host:
// lifecycle control (install, activate, deactivate, reload), command
// dispatch, capability discovery and workspace file CRUD. Handlers are
// thin adapters over the runtime registry and the virtual file tree;
// all policy lives below them.
package http
