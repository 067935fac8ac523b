// Package cmd defines and implements the CLI commands for the runwatch executable.
//
// Subcommands:
//   - watch <run-id>: follow a run in the foreground, redrawing the step view.
//   - execute <run-id>: record the execution anchor and trigger the run.
//   - artifacts <run-id>: print one category of artifacts or export it.
//   - runs / runs create: list and create runs.
//   - serve: expose run progress over HTTP.
//
// Configuration comes from an optional YAML file (--config), RUNWATCH_*
// environment variables and a .env file in the working directory.
package cmd
