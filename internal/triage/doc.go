// Package triage provides the business boundary for TriageDesk's ticket
// triage pipeline. It defines the Service (the orchestrator state machine),
// the Classifier variants, the Drafter and Escalator, the Store interface
// (the memory bank) and the domain models.
package triage
