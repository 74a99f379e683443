/*
Package types defines the core data model and error taxonomy shared by
every layer of the store.

# Core entities

	GaiaID        user-visible 64-bit object identity
	Locator       stable small-integer name for an object, independent of offset
	Timestamp     42-bit begin-or-commit timestamp
	ObjectHeader  fixed 16-byte arena header (§3)
	Relationship  parent/child reference triple with cardinality

# Error taxonomy (§7)

	ProtocolError      unexpected event/state, malformed message, missing fds
	ResourceError       arena/locator exhaustion, log-record cap exceeded
	ConcurrencyError    commit aborted by validation or fence invalidation
	ReferentialError    duplicate id, dangling reference, type mismatch
	IOError             socket/mmap/fcntl/eventfd failure

Every error type wraps its cause (where one exists) so callers can recover
the category with errors.As while still seeing the underlying cause via
errors.Unwrap / %w formatting.
*/
package types
