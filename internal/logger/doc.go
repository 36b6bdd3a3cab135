// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - an optional rotating file sink backed by lumberjack,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - leveled helpers that take the logger from a context (InfoKV, WarnKV, ErrorKV).
//
// Components accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase.
package logger
