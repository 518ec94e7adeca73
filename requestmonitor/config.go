package requestmonitor

// Configuration supplies typed values on demand. Loading mechanics
// (env, file, remote) are out of scope here; this is the small
// interface every component reads through.
type Configuration interface {
	Bool(key string, def bool) bool
	Int(key string, def int) int
	Float64(key string, def float64) float64
	String(key string, def string) string
	StringSet(key string, def []string) []string
}

// StaticConfiguration is a map-backed Configuration, useful for tests
// and for applications that already resolve their own config and just
// want to hand the agent a snapshot.
type StaticConfiguration struct {
	bools   map[string]bool
	ints    map[string]int
	floats  map[string]float64
	strings map[string]string
	sets    map[string][]string
}

// NewStaticConfiguration builds an empty StaticConfiguration; every
// lookup falls back to the caller's default until set.
func NewStaticConfiguration() *StaticConfiguration {
	return &StaticConfiguration{
		bools:   make(map[string]bool),
		ints:    make(map[string]int),
		floats:  make(map[string]float64),
		strings: make(map[string]string),
		sets:    make(map[string][]string),
	}
}

func (c *StaticConfiguration) SetBool(key string, value bool) *StaticConfiguration {
	c.bools[key] = value
	return c
}

func (c *StaticConfiguration) SetInt(key string, value int) *StaticConfiguration {
	c.ints[key] = value
	return c
}

func (c *StaticConfiguration) SetFloat64(key string, value float64) *StaticConfiguration {
	c.floats[key] = value
	return c
}

func (c *StaticConfiguration) SetString(key string, value string) *StaticConfiguration {
	c.strings[key] = value
	return c
}

func (c *StaticConfiguration) SetStringSet(key string, value []string) *StaticConfiguration {
	c.sets[key] = value
	return c
}

func (c *StaticConfiguration) Bool(key string, def bool) bool {
	if v, ok := c.bools[key]; ok {
		return v
	}
	return def
}

func (c *StaticConfiguration) Int(key string, def int) int {
	if v, ok := c.ints[key]; ok {
		return v
	}
	return def
}

func (c *StaticConfiguration) Float64(key string, def float64) float64 {
	if v, ok := c.floats[key]; ok {
		return v
	}
	return def
}

func (c *StaticConfiguration) String(key string, def string) string {
	if v, ok := c.strings[key]; ok {
		return v
	}
	return def
}

func (c *StaticConfiguration) StringSet(key string, def []string) []string {
	if v, ok := c.sets[key]; ok {
		return v
	}
	return def
}

// Well-known configuration keys, named after the keys spec.md §6 lists.
const (
	KeyActive                   = "stagemonitor.active"
	KeyInternalMonitoring        = "stagemonitor.internal.monitoring"
	KeyApplicationName           = "application.name"
	KeyInstanceName              = "instance.name"
	KeyElasticsearchURL          = "elasticsearch.url"
	KeyWarmupRequests            = "requestmonitor.warmupRequests"
	KeyWarmupSeconds             = "requestmonitor.warmupSeconds"
	KeyCollectRequestStats       = "requestmonitor.collectRequestStats"
	KeyCollectCPUTime            = "requestmonitor.collectCpuTime"
	KeyCollectDbTimePerRequest   = "requestmonitor.collectDbTimePerRequest"
	KeyProfilerActive            = "requestmonitor.profiler.active"
	KeyProfilerGroupEveryX       = "requestmonitor.profiler.callStackEveryXRequestsToGroup"
	KeyProfilerMinExecPercent    = "requestmonitor.profiler.minExecutionTimePercent"
	KeyAnonymizeIPs              = "requestmonitor.anonymizeIPs"
	KeyESRequestsPerMinute       = "requestmonitor.elasticsearch.onlyReportNRequestsPerMinute"
	KeyESOnlyReportWithName      = "requestmonitor.elasticsearch.onlyReportRequestsWithName"
	KeyThreadPoolQueueCapacity   = "threadPool.queueCapacityLimit"
	KeyESIndexPrefix             = "requestmonitor.elasticsearch.indexPrefix"
)
