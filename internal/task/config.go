package task

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultConfigFile is consulted when MYOS_CONF does not point elsewhere.
const DefaultConfigFile = "myos.conf"

// Config holds the raw key=value settings from myos.conf plus MYOS_*
// environment overrides. It is resolved once at startup and treated as
// immutable afterwards.
type Config struct {
	Values map[string]string
}

// loadConfig reads a myos.conf key=value file and applies defaults.
// A missing file is not an error; the defaults cover the usual layout.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

// mergeEnvOverrides imports MYOS_* environment variables, which take
// precedence over the config file.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MYOS_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// get returns the configured value for key, or def when unset.
func (c *Config) get(key, def string) string {
	if v := c.Values[key]; v != "" {
		return v
	}
	return def
}

// getInt returns the configured integer for key, or def when unset or invalid.
func (c *Config) getInt(key string, def int) int {
	if v := c.Values[key]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// initConfig resolves the directory layout from cfg. Everything hangs off
// MYOS_ROOT (default: current directory) except the mount point and lock
// file, which are host-global.
func initConfig(cfg *Config) {
	rootDir = cfg.get("MYOS_ROOT", ".")

	outputDir = filepath.Join(rootDir, outputDirName)
	dumpDir = filepath.Join(rootDir, dumpDirName)
	appsDir = filepath.Join(rootDir, appsDirName)
	bootloaderDir = filepath.Join(rootDir, bootloaderDirName)
	kernelDir = filepath.Join(rootDir, kernelDirName)
	thirdPartyDir = filepath.Join(rootDir, thirdPartyDirName)
	qemuSrcDir = filepath.Join(thirdPartyDir, qemuDirName)
	doomSrcDir = filepath.Join(thirdPartyDir, doomDirName)
	initramfsDir = filepath.Join(rootDir, initramfsDirName)

	mountPoint = cfg.get("MYOS_MNT", "/mnt")
	lockFilePath = cfg.get("MYOS_LOCK", "/tmp/myos-task.lock")

	Debug = cfg.Values["MYOS_DEBUG"] == "1"
}

// Options is the per-invocation mode, fixed at process start and threaded
// through every pipeline call. It replaces ambient mutable flags so that
// pipelines stay composable and testable in isolation.
type Options struct {
	// KernelTest selects headless, exit-code-checked emulator runs and
	// skips the app and vendored-emulator builds.
	KernelTest bool
	// TestKernelPath, when set in test mode, overrides the kernel
	// producer's source path with a freshly built test binary.
	TestKernelPath string
}
