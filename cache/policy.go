package cache

// CallOptions are the per-call facts that decide cache eligibility.
type CallOptions struct {
	Stream           bool
	Tools            bool
	StructuredOutput bool
	// Cache is an explicit per-call flag; nil defers to the global default.
	Cache   *bool
	NoCache bool
}

// ShouldCache reports whether a call may be served from or stored in the
// cache. Streaming, tool use and structured output always refuse, even with
// an explicit enable flag. NoCache always wins. Otherwise the explicit
// per-call flag decides, then globalDefault.
func ShouldCache(opts CallOptions, globalDefault bool) bool {
	if opts.Stream || opts.Tools || opts.StructuredOutput {
		return false
	}
	if opts.NoCache {
		return false
	}
	if opts.Cache != nil {
		return *opts.Cache
	}
	return globalDefault
}
