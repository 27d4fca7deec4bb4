// Package logx wraps zerolog behind a small stable facade so the rest
// of the daemon never imports zerolog directly. Loggers created from a
// Service keep working across runtime config reloads.
package logx
