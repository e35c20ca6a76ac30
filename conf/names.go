package conf

// Telemetry names shared by spans, span attributes and metrics.
const (
	// TracerName is the instrumentation scope of host spans
	TracerName = "github.com/go-lynx/plughost"
	// MetricsNamespace prefixes every host metric
	MetricsNamespace = "plughost"
	// TelemetryPrefix prefixes span names and span attribute keys
	TelemetryPrefix = "plughost."
)

// Span names of the plugin manager pipeline.
const (
	SpanLoadPlugins   = TelemetryPrefix + "LoadPlugins"
	SpanUnloadPlugins = TelemetryPrefix + "UnloadPlugins"
	SpanPrepare       = TelemetryPrefix + "prepare"
	SpanPostLoad      = TelemetryPrefix + "post_load"
	SpanDependencies  = TelemetryPrefix + "dependencies"
	SpanInitialize    = TelemetryPrefix + "initialize"
	SpanFinalize      = TelemetryPrefix + "finalize"
	SpanUnload        = TelemetryPrefix + "unload"
	SpanRelease       = TelemetryPrefix + "release"
)

// Span attribute keys.
const (
	AttrRequested = TelemetryPrefix + "requested"
	AttrLoaded    = TelemetryPrefix + "loaded"
	AttrFailed    = TelemetryPrefix + "failed"
	AttrStatus    = TelemetryPrefix + "status"
	AttrSurvivors = TelemetryPrefix + "survivors"
	AttrPlugin    = TelemetryPrefix + "plugin"
)
