// Package cli constructs the drivemigrate command-line interface, wiring the
// Cobra command hierarchy, configuration loader, and structured logging
// primitives around the migration commands.
package cli
