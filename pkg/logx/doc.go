// Package logx configures weatherbot's structured logging.
//
// Logger is a small wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional Telegram sink forwards warnings to an operator chat,
//     filtered by min-level and rate limited
package logx
