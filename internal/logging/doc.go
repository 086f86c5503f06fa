// Package logging provides structured logging for waproxy.
//
// Entries are JSON lines produced by log/slog. A [Logger] carries
// persistent attributes so that every entry from a subsystem or an HTTP
// request can be filtered after the fact:
//
//	logger, err := logging.New(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
//	    MaxSizeMB:  cfg.Logging.MaxSizeMB,
//	    MaxBackups: cfg.Logging.MaxBackups,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sup := logger.WithComponent("supervisor")
//	sup.Info("bridge started", "pid", pid)
//
// When a file path is given, output goes through a [RotatingWriter] which
// renames the file to path.1 once it reaches MaxSizeMB and keeps at most
// MaxBackups older files. An empty path writes to stderr.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's writer.
package logging
