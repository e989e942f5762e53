package audithook

// Action constants for audit events.
const (
	// Transaction actions
	ActionTransactionRolledBack = "transaction.rolled_back"

	// Store actions
	ActionStoreRegistered   = "store.registered"
	ActionStoreDisconnected = "store.disconnected"

	// Persistence actions
	ActionStateSaved    = "state.saved"
	ActionStateRestored = "state.restored"
	ActionSaveFailed    = "state.save_failed"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceStore       = "store"
	ResourceSnapshot    = "snapshot"
)

// Category constants for audit events.
const (
	CategoryInventory   = "inventory"
	CategoryPersistence = "persistence"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
