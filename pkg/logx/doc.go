// Package logx configures safenotify's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, so the send trail can be shipped elsewhere
package logx
