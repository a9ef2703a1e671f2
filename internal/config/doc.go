// Package config loads, validates and defaults the engine configuration.
// Configuration comes from YAML files with environment variable overrides;
// call NewDefault, then LoadFromFile and LoadFromEnv as needed, then
// Validate before handing the tree to the cache.
package config
