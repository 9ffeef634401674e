package telemetry

// Semantic convention keys for fieldsync-specific attributes
const (
	KeyTaskID     = "fieldsync.task.id"
	KeyTaskStatus = "fieldsync.task.status"

	KeyEngineerID   = "fieldsync.engineer.id"
	KeyEngineerIDs  = "fieldsync.engineer.ids"
	KeySessionCount = "fieldsync.session.count"
	KeyDayOffset    = "fieldsync.day.offset"

	KeyDispatchAction = "fieldsync.dispatch.action"
	KeyAckSuccess     = "fieldsync.dispatch.ack"

	KeyErrorCategory = "fieldsync.error.category"
)

// Error categories
const (
	ErrorCategoryStorage    = "storage"
	ErrorCategoryValidation = "validation"
	ErrorCategoryPolicy     = "policy"
	ErrorCategoryOutbound   = "outbound"
	ErrorCategoryPush       = "push"
)
