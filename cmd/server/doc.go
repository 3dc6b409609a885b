// Command server runs the NebulaIDE extension host: it seeds
// pre-installed extensions, activates the eager ones and serves the
// REST and WebSocket surface the editor UI talks to.
package main
