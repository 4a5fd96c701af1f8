// Package triage provides the business boundary for cohacker's inline code triage.
// It defines the triage graph (State, transition policy, Engine), the
// StageInvoker capability the graph consumes, the Service (run lifecycle,
// persistence, batch fan-out), the Store interface, and domain models.
package triage
