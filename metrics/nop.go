package metrics

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a no-op Timer.
func NopTimer() Timer { return nopTimer{} }

type nopCache struct{}

func (nopCache) Hit(string)             {}
func (nopCache) Miss(string)            {}
func (nopCache) Evicted(string, string) {}
func (nopCache) Entries(string, int)    {}

// NopCache returns a CacheMetrics that discards everything.
func NopCache() CacheMetrics { return nopCache{} }

type nopFlight struct{}

func (nopFlight) Call(string, string)           {}
func (nopFlight) ProducerFailed(string)         {}
func (nopFlight) ProducerDuration(string) Timer { return nopTimer{} }
func (nopFlight) InFlight(string, int)          {}

// NopFlight returns a FlightMetrics that discards everything.
func NopFlight() FlightMetrics { return nopFlight{} }

type nopPool struct{}

func (nopPool) TaskSettled(string, bool)  {}
func (nopPool) TaskDuration(string) Timer { return nopTimer{} }
func (nopPool) Running(string, int)       {}
func (nopPool) Queued(string, int)        {}

// NopPool returns a PoolMetrics that discards everything.
func NopPool() PoolMetrics { return nopPool{} }
