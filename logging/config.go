package logging

import "time"

// Config tunes the Router. Sinks are constructed by the caller; EnabledSinks
// and JSON only tell the caller which ones to build.
type Config struct {
	EnabledSinks    []string
	MinimumSeverity Severity
	Fields          map[string]any

	// BufferSize bounds the publish queue. SinkBuffer bounds each sink
	// backlog and defaults to BufferSize clamped to [32, 1024].
	BufferSize       int
	SinkBuffer       int
	SinkCooldown     time.Duration
	DropWarnInterval time.Duration

	// Metrics, when set, receives the router counters.
	Metrics *Metrics

	JSON JSONConfig
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		MinimumSeverity:  SeverityInfo,
		BufferSize:       512,
		SinkCooldown:     time.Second,
		DropWarnInterval: 5 * time.Second,
		JSON:             JSONConfig{FlushInterval: 2 * time.Second},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}

func (c Config) sinkBuffer(queue int) int {
	if c.SinkBuffer > 0 {
		return c.SinkBuffer
	}
	return max(32, min(queue, 1024))
}
