package config

import (
	"strconv"
	"time"
)

// Values is the live settings view a Provider reads overrides from.
type Values interface {
	IsLoaded() bool
	Get(key string, def any) any
}

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	TimelineFPS() float64
	TimelineDuration() string
	TimelineResetDelay() time.Duration
	WriteStorage() string

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and the
// user's settings.
type UnifiedProvider struct {
	base *Config
	live Values
}

// NewProvider creates a new UnifiedProvider. live may be nil.
func NewProvider(base *Config, live Values) *UnifiedProvider {
	return &UnifiedProvider{
		base: base,
		live: live,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) TimelineFPS() float64 {
	fps := p.getFloat64(KeyTimelineFPS, p.base.Timeline.FPS)
	if fps <= 0 {
		return p.base.Timeline.FPS
	}
	return fps
}

func (p *UnifiedProvider) TimelineDuration() string {
	return p.getString(KeyTimelineDuration, p.base.Timeline.Duration)
}

func (p *UnifiedProvider) TimelineResetDelay() time.Duration {
	return time.Duration(p.base.Timeline.ResetDelay)
}

func (p *UnifiedProvider) WriteStorage() string {
	return p.getString(KeyWriteStorage, p.base.Settings.WriteStorage)
}

func (p *UnifiedProvider) get(key string) (any, bool) {
	if p.live == nil || !p.live.IsLoaded() {
		return nil, false
	}
	v := p.live.Get(key, nil)
	return v, v != nil
}

func (p *UnifiedProvider) getString(key, fallback string) string {
	if v, ok := p.get(key); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(key string, fallback float64) float64 {
	v, ok := p.get(key)
	if !ok {
		return fallback
	}
	switch val := v.(type) {
	case float64:
		return val
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
