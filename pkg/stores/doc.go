// Package stores provides persistence layer implementations for OpenConform.
// It includes SQLite-based storage with WAL mode, connection pooling, and
// CRUD operations for devices, config snapshots, compliance and remediation
// results, config plans, deployment jobs, golden records, and the audit log.
package stores
