// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (progress.go, connection.go, broadcast.go, match.go, ...)
// hold shared types and the cross-cutting interfaces the adapters implement.
// No implementation code beyond small derived-value helpers.
package domain
