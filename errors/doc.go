// Package errors provides the structured error type shared by the engine,
// its sources and its stages. Errors carry a machine-readable code, a
// retryable flag and optional details; two AppErrors match under errors.Is
// when their codes are equal.
package errors
