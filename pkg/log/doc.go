/*
Package log provides structured logging for the core controller using
zerolog. Components obtain a scoped logger via WithComponent; the TOE
and composite workflows further scope per-resource logging via WithSpec
so every log line for a given spec (kind + id) can be correlated across
a composite workflow's steps.
*/
package log
