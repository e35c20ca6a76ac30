package boot

// Process exit codes of the host.
const (
	// ExitOK is returned when the application finished normally
	ExitOK = 0
	// ExitNoApplication is returned when plugins loaded but none registered
	// a plugins.Application
	ExitNoApplication = 1
	// ExitNoPlugins is returned when discovery found no module
	ExitNoPlugins = 2
	// ExitNoUsablePlugins is returned when modules were found but none loaded
	ExitNoUsablePlugins = 3
	// ExitBootstrapFailure is returned when configuration, logging or
	// metrics could not be set up
	ExitBootstrapFailure = 4
	// ExitCrash is returned in unattended mode when the host panicked
	ExitCrash = 70
)
