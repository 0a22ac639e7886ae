// Package tui provides the terminal dashboard for Flowline. It shows the
// active pipelines with their agent chains and a live event log fed by
// orchestrator notifications.
package tui
