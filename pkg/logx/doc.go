// Package logx wraps zerolog behind a small Logger value that survives
// runtime reconfiguration: loggers created from a Service keep writing to
// whatever sinks the latest Apply() installed. The optional Telegram sink
// mirrors warnings into an operator chat, rate limited and best effort.
package logx
