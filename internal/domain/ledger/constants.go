package ledger

// MinTTL is the approval and blob TTL floor, interpreted as one hour of
// epochs.
const MinTTL int64 = 3600

// AutoTTL is the default blob TTL used when none is supplied and for
// auto-renewal during the debit tick.
const AutoTTL int64 = 3600
