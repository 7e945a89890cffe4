// Package services defines the error taxonomy shared by every pipeline
// stage and the context annotation helpers used for structured logging.
package services
