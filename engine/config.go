package engine

import "go.uber.org/zap"

// Config holds configuration for loading the native library
type Config struct {
	// Logger replaces the bridge logger when set.
	Logger *zap.Logger

	// MemoryLimitPages caps foreign memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// InitialPages is the foreign memory size at load. 0 means 16 pages.
	InitialPages uint32
}

const defaultInitialPages = 16

func (c *Config) initialPages() uint32 {
	if c == nil || c.InitialPages == 0 {
		return defaultInitialPages
	}
	return c.InitialPages
}
