/*
Package log provides structured logging for Burrow using zerolog.

A single package-level zerolog.Logger is configured once through Init and shared
by every package. Packages derive component loggers from it so each line says
where it came from:

	storeLog := log.WithComponent("storage")
	storeLog.Debug().Str("collection", "students").Int("records", 42).Msg("replaced collection")

	{"level":"debug","component":"storage","collection":"students","records":42,"time":"...","message":"replaced collection"}

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,     // console writer with RFC3339 timestamps
		Output:     os.Stderr,
	})

Setting File switches output to a lumberjack rotating file (MaxSizeMB, default
10, and MaxBackups). File output is always JSON.

Until Init is called the global logger is the zero zerolog.Logger, which drops
everything. Tests rely on that and never call Init.

# Levels

  - debug: per-entry queue and store activity
  - info: bootstrap, sync cycle results
  - warn: remote failures that pause the queue, skipped records
  - error: storage failures and aborted cycles
*/
package log
