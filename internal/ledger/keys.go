package ledger

// Property keys. They are relative to the per-target namespace.
const (
	processedIdentifiersKeyConstant = "processedIds"
	createdContainersKeyConstant    = "createdContainers"
	pendingCopiesKeyConstant        = "pendingCopies"
	manifestKeyConstant             = "manifest"
	runInProgressKeyConstant        = "migrationRunning"
	originalRetiredKeyConstant      = "originalRetired"
	destinationRenamedKeyConstant   = "destinationRenamed"
	flagSetValueConstant            = "true"
)

// AllKeys lists every property the migration state may occupy for one target.
func AllKeys() []string {
	return []string{
		processedIdentifiersKeyConstant,
		createdContainersKeyConstant,
		pendingCopiesKeyConstant,
		manifestKeyConstant,
		originalRetiredKeyConstant,
		destinationRenamedKeyConstant,
		runInProgressKeyConstant,
	}
}
