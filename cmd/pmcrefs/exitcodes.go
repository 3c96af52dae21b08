package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (invalid config file or values, publishing not set up)
	ExitDataError   = 3 // Data error (identifier dataset missing or malformed)
)
