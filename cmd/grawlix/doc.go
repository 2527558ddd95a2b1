// Package main hosts the grawlix CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// manifest parsing, book downloads, and configuration scaffolding. It
// centralizes configuration resolution, structured logging setup, and
// progress rendering so subcommands can focus on user experience instead
// of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags
// here.
package main
