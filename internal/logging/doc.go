// Package logging builds the slog loggers used across strato and defines
// the shared attribute helpers and field-name constants so log output stays
// greppable across components.
package logging
