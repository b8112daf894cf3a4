// Package logger provides the structured logging interface used across auditpoller.
//
// It wraps zerolog behind a small Logger interface so components receive a
// logger at construction and tests can substitute NewTestLogger to assert on
// warnings and errors.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("input", "tenable_prod").InfoWithFields("run finished", map[string]interface{}{
//	    "written":         12,
//	    "next_checkpoint": int64(1700003600),
//	})
//
// Console output is written to stderr. When logging.file is set, JSON lines are
// also appended to that file.
package logger
