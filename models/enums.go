package models

// Movement types for the append-only stock ledger.
type MovementType string

const (
	MovementTypeIn      MovementType = "in"
	MovementTypeOut     MovementType = "out"
	MovementTypeReserve MovementType = "reserve"
	MovementTypeRelease MovementType = "release"
	MovementTypeAdjust  MovementType = "adjust"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementTypeIn, MovementTypeOut, MovementTypeReserve, MovementTypeRelease, MovementTypeAdjust:
		return true
	}
	return false
}

type MovementReason string

const (
	MovementReasonPurchase   MovementReason = "purchase"
	MovementReasonOrder      MovementReason = "order"
	MovementReasonWriteoff   MovementReason = "writeoff"
	MovementReasonManual     MovementReason = "manual"
	MovementReasonProduction MovementReason = "production"
)

func (r MovementReason) Valid() bool {
	switch r {
	case MovementReasonPurchase, MovementReasonOrder, MovementReasonWriteoff, MovementReasonManual, MovementReasonProduction:
		return true
	}
	return false
}

type SupplyMode string

const (
	SupplyModeStock SupplyMode = "stock"
	SupplyModeMTO   SupplyMode = "mto"
	SupplyModeMixed SupplyMode = "mixed"
)

func (m SupplyMode) Valid() bool {
	switch m {
	case SupplyModeStock, SupplyModeMTO, SupplyModeMixed:
		return true
	}
	return false
}

// OrderStatus is a closed enum. The legacy admin compared free-text labels;
// the transition table below is the behavior contract.
type OrderStatus string

const (
	OrderStatusNew              OrderStatus = "New"
	OrderStatusInProgress       OrderStatus = "InProgress"
	OrderStatusCriticalWait     OrderStatus = "CriticalWait"
	OrderStatusHandedToDelivery OrderStatus = "HandedToDelivery"
	OrderStatusCompleted        OrderStatus = "Completed"
	OrderStatusCancelled        OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusInProgress, OrderStatusCriticalWait,
		OrderStatusHandedToDelivery, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsActiveWork reports whether the status reserves stock.
func (s OrderStatus) IsActiveWork() bool {
	switch s {
	case OrderStatusInProgress, OrderStatusCriticalWait, OrderStatusHandedToDelivery:
		return true
	}
	return false
}

// Coarse production row status.
type ProductionStatus string

const (
	ProductionStatusOpen      ProductionStatus = "open"
	ProductionStatusClosed    ProductionStatus = "closed"
	ProductionStatusCancelled ProductionStatus = "cancelled"
)

// Fine-grained production pipeline state.
type ProdState string

const (
	ProdStateDraft     ProdState = "draft"
	ProdStateConfirmed ProdState = "confirmed"
	ProdStateInWork    ProdState = "in_work"
	ProdStateReady     ProdState = "ready"
	ProdStateClosed    ProdState = "closed"
	ProdStateCancelled ProdState = "cancelled"
)

func (s ProdState) Valid() bool {
	switch s {
	case ProdStateDraft, ProdStateConfirmed, ProdStateInWork, ProdStateReady, ProdStateClosed, ProdStateCancelled:
		return true
	}
	return false
}

type StageState string

const (
	StageTodo     StageState = "todo"
	StageProgress StageState = "progress"
	StageDone     StageState = "done"
)

func (s StageState) Valid() bool {
	switch s {
	case StageTodo, StageProgress, StageDone:
		return true
	}
	return false
}

type ProductionSource string

const (
	ProductionSourceAuto   ProductionSource = "auto"
	ProductionSourceManual ProductionSource = "manual"
)

type CashflowKind string

const (
	CashflowKindIncome CashflowKind = "income"
	CashflowKindRefund CashflowKind = "refund"
)

type CashflowStatus string

const (
	CashflowStatusPosted CashflowStatus = "posted"
	CashflowStatusVoid   CashflowStatus = "void"
)

// Outbox record lifecycle, mirrored on the dispatcher side.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusSent       = "SENT"
	OutboxStatusFailed     = "FAILED"
	OutboxStatusDead       = "DEAD"
)

// Outbox record kinds.
const (
	OutboxKindOrderStatusSync = "order_status_sync"
	OutboxKindOrderCreated    = "order_created"
)
