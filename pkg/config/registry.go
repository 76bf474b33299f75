package config

// Settings keys that override static config at runtime.
const (
	KeyTimelineFPS      = "tlc.fps"
	KeyTimelineDuration = "tlc.duration"
	KeyWriteStorage     = "storage.writeType"
)
