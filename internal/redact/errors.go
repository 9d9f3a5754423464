package redact

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
