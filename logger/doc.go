// Package logger provides structured logging for the engine using zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped child loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "console"
//
// # Usage
//
//	log := logger.NewDefault("postr-engine").WithComponent("pump")
//	log.Info("item claimed", logger.Fields(logger.FieldItemID, id))
package logger
