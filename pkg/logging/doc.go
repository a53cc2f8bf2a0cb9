// Package logging provides structured logging configuration for vbackend.
//
// This package wraps log/slog to provide consistent logging across all
// vbackend components. It supports configurable log levels, text or JSON
// output, and an optional JSON log file written alongside the console.
//
// # Usage
//
//	logger, closer, err := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	logger.Info("server started", "addr", ":4290")
//	logging.ForWorkspace(logger, "ws1").Warn("lock timeout", "key", "user/1")
//
// # Integration
//
// Components should accept a *slog.Logger in their constructor or via a setter.
// If no logger is provided, use logging.Nop() for a no-op logger.
package logging
