package domain

const (
	WorkOrderPending    = "pending"
	WorkOrderInProgress = "in_progress"
	WorkOrderPaused     = "paused"
	WorkOrderCompleted  = "completed"
	WorkOrderCancelled  = "cancelled"
)

const (
	PlanDraft     = "draft"
	PlanApproved  = "approved"
	PlanScheduled = "scheduled"
	PlanCompleted = "completed"
)

const (
	ItemMaterial = "material"
	ItemProduct  = "product"
)
