/*
Package log provides structured logging for Atomix using zerolog.

The log package wraps zerolog to give every component JSON-structured
(or console, for local runs) logging with a shared global logger,
configurable level, and component-scoped child loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithPartition("kv", 2)
	logger.Info().Uint64("term", uint64(term)).Msg("became leader")

WithPartition, WithReplica, and WithSession attach the identifiers that
matter most when reading Raft and session logs: which partition, which
member, which client session an event concerns.
*/
package log
