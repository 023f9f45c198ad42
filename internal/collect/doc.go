// Package collect defines the core types and interfaces shared by the
// orchestration loop, the config materializer, the worker supervisor and the
// recovery manager.
package collect
