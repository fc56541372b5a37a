// Package logx configures abyssbot's structured logging.
//
// It is a thin wrapper (logx.Logger) on top of zerolog so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink is JSON lines
//   - WARN and above can be mirrored to a Telegram chat, rate limited
//
// Components derive their logger with With(logx.String("comp", "...")).
package logx
