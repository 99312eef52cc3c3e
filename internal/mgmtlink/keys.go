package mgmtlink

// Request/response application-property and body map keys for the
// management-link operations.
const (
	keyLockTokens            = "lock-tokens"
	keySessionID             = "session-id"
	keySequenceNumbers       = "sequence-numbers"
	keyReceiverSettleMode    = "receiver-settle-mode"
	keyDispositionStatus     = "disposition-status"
	keyDeadLetterReason      = "dead-letter-reason"
	keyDeadLetterDescription = "dead-letter-description"
	keyPropertiesToModify    = "properties-to-modify"
	keyFromSequenceNumber    = "from-sequence-number"
	keyMessageCount          = "message-count"
	keySessionState          = "session-state"
)

// Disposition status values for the update-disposition-by-lock-token
// operation.
const (
	dispositionCompleted = "completed"
	dispositionAbandoned = "abandoned"
	dispositionDeferred  = "deferred"
	dispositionSuspended = "suspended" // dead-letter
)

// Operation names, sent as the message's "operation" application property.
const (
	opRenewLock        = "com.microsoft:renew-lock"
	opReceiveBySeq     = "com.microsoft:receive-by-sequence-number"
	opUpdateDisp       = "com.microsoft:update-disposition"
	opRenewSessionLock = "com.microsoft:renew-session-lock"
	opGetSessionState  = "com.microsoft:get-session-state"
	opSetSessionState  = "com.microsoft:set-session-state"
	opPeekMessage      = "com.microsoft:peek-message"
)

// statusOK is the broker's "OK" response status code.
const statusOK = 200
