// Package logx wraps zerolog behind a small, service-friendly Logger type.
//
// Components accept a logx.Logger value; the zero value is a safe no-op, so
// constructors don't need nil checks. The Service supports live Apply() so a
// config reload can change the level or sinks without re-plumbing loggers.
package logx
