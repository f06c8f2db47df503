package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprof mounts net/http/pprof under /debug/pprof/.
	EnablePprof bool
	// OTelEndpoint is the OTLP/HTTP collector URL. Tracing is disabled when
	// it is empty.
	OTelEndpoint string
	ServiceName  string
}

// TracingEnabled reports whether Setup will install a tracer provider.
func (c Config) TracingEnabled() bool {
	return c.OTelEndpoint != ""
}
