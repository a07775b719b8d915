package errors

type ExitCode int

const (
	// The run finished; some tasks may still have been aborted on timeout.
	SuccessExitCode ExitCode = 0

	// Bad flags, config files or missing environment (no host list, no command file).
	ConfigFaultExitCode ExitCode = 70

	// A scheduling invariant was broken, which indicates a launcher bug.
	InvariantFaultExitCode ExitCode = 80

	// The executor could not start or terminate its backend.
	ExecutorFailureExitCode ExitCode = 90

	// Writing the restart snapshot or the final report failed.
	PostProcessingFailureExitCode ExitCode = 100

	// Anything we could not classify.
	GenericFailureExitCode ExitCode = 1
)
