// Package kernelconfig loads the kernel's ambient, startup-only
// settings — the things read before a Store exists, as opposed to
// genus/entity/action state, which lives entirely inside the tessella
// log per spec.md.
//
// Grounded on the teacher's BurntSushi/toml dependency (go.mod
// require): the kernel never requires a config file (spec.md §6's
// "accepts a store path or :memory:" is the whole contract), but when
// one is present it is TOML, decoded the same way.
package kernelconfig

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds startup settings for a kernel instance.
type Config struct {
	// StorePath is the SQLite DSN or ":memory:" passed to store.Open.
	StorePath string `toml:"store_path"`

	// DefaultBranch is the branch a freshly bootstrapped store starts
	// on (spec.md §4.6 "currentBranch... defaulting to main").
	DefaultBranch string `toml:"default_branch"`

	// DefaultWorkspace seeds kernel.currentWorkspace (spec.md §4.7).
	// Empty means "global" (no workspace scoping).
	DefaultWorkspace string `toml:"default_workspace"`

	// ScheduleTick is the granularity tickCron callers are expected to
	// poll at; it is advisory only — tickCron itself is idempotent
	// within a UTC minute regardless of how often it's called
	// (spec.md §4.11).
	ScheduleTick time.Duration `toml:"-"`
	ScheduleTickSeconds int `toml:"schedule_tick_seconds"`

	// CronCheckinWindow is loaded from cron_checkin_window_seconds but
	// is not read by schedule.Tick, which fires a due one-shot schedule
	// however late it is, with no look-back bound.
	CronCheckinWindow time.Duration `toml:"-"`
	CronCheckinWindowSeconds int `toml:"cron_checkin_window_seconds"`
}

// Default returns the configuration a kernel uses when no TOML file is
// supplied.
func Default() Config {
	return Config{
		StorePath:     ":memory:",
		DefaultBranch: "main",
		ScheduleTick:  time.Minute,
	}
}

// Load reads a TOML config file at path, applying Default for any
// field the file leaves unset. A missing file is not an error — Load
// returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var fileCfg Config
	meta, err := toml.DecodeFile(path, &fileCfg)
	if err != nil {
		return cfg, err
	}

	if meta.IsDefined("store_path") {
		cfg.StorePath = fileCfg.StorePath
	}
	if meta.IsDefined("default_branch") {
		cfg.DefaultBranch = fileCfg.DefaultBranch
	}
	if meta.IsDefined("default_workspace") {
		cfg.DefaultWorkspace = fileCfg.DefaultWorkspace
	}
	if meta.IsDefined("schedule_tick_seconds") && fileCfg.ScheduleTickSeconds > 0 {
		cfg.ScheduleTickSeconds = fileCfg.ScheduleTickSeconds
		cfg.ScheduleTick = time.Duration(fileCfg.ScheduleTickSeconds) * time.Second
	}
	if meta.IsDefined("cron_checkin_window_seconds") && fileCfg.CronCheckinWindowSeconds > 0 {
		cfg.CronCheckinWindowSeconds = fileCfg.CronCheckinWindowSeconds
		cfg.CronCheckinWindow = time.Duration(fileCfg.CronCheckinWindowSeconds) * time.Second
	}

	return cfg, nil
}
