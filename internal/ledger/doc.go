// Package ledger records migration progress durably so an interrupted run can
// resume exactly where it stopped.
//
// The Ledger maps node identifiers to a done marker and is written through to
// the property store after every completed node. A done identifier is never
// acted upon again. RunLock guards against overlapping invocations, Flags hold
// the one-time finalization markers, and the journals (created containers,
// pending copies) let a resumed run recognize work whose completion marker
// was never written.
package ledger
