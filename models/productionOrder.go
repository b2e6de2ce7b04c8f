package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/utils"
	"gorm.io/gorm"
)

// ProductionOrder is one make-to-order line. Rows sharing a ProdNo form one
// logical job; the job itself is not a stored entity, its state is derived
// from the rows (see DeriveJobState). ProdState on each row doubles as a
// best-effort mirror of the group state for cheap filtering.
type ProductionOrder struct {
	ID            int              `gorm:"primary_key" json:"id"`
	ProductId     int              `gorm:"index;not null" json:"product_id"`
	OrderId       *int             `gorm:"index" json:"order_id"`
	Qty           int              `gorm:"not null" json:"qty"`
	QtyDone       int              `gorm:"not null;default:0" json:"qty_done"`
	Status        ProductionStatus `gorm:"type:enum('open','closed','cancelled');not null;default:'open';index" json:"status"`
	ProdState     ProdState        `gorm:"type:enum('draft','confirmed','in_work','ready','closed','cancelled');not null;default:'draft';index" json:"prod_state"`
	ProdNo        *string          `gorm:"size:30;index" json:"prod_no"`
	StageCut      StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_cut"`
	StageBend     StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_bend"`
	StageFitting  StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_fitting"`
	StageAssembly StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_assembly"`
	StageQc       StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_qc"`
	StageStock    StageState       `gorm:"type:enum('todo','progress','done');not null;default:'todo'" json:"stage_stock"`
	ProdAddress   string           `gorm:"size:255" json:"prod_address"`
	DeadlineDate  *time.Time       `json:"deadline_date"`
	Source        ProductionSource `gorm:"type:enum('auto','manual');not null;default:'auto'" json:"source"`
	Comment       string           `gorm:"type:text" json:"comment"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductionJob struct {
	Items        []NewProductionItem `json:"items" binding:"required,min=1,dive"`
	OrderId      *int                `json:"order_id"`
	ProdAddress  string              `json:"prod_address"`
	DeadlineDate *time.Time          `json:"deadline_date"`
	Comment      string              `json:"comment"`
}

type NewProductionItem struct {
	ProductId int `json:"product_id" binding:"required"`
	Qty       int `json:"qty" binding:"required"`
}

// ProductionRowPatch: nil leaves a field unchanged.
type ProductionRowPatch struct {
	Qty           *int        `json:"qty"`
	StageCut      *StageState `json:"stage_cut"`
	StageBend     *StageState `json:"stage_bend"`
	StageFitting  *StageState `json:"stage_fitting"`
	StageAssembly *StageState `json:"stage_assembly"`
	StageQc       *StageState `json:"stage_qc"`
	ProdAddress   *string     `json:"prod_address"`
	DeadlineDate  *time.Time  `json:"deadline_date"`
	Comment       *string     `json:"comment"`
}

// ProductionJob is the derived aggregate returned by the job endpoints.
type ProductionJob struct {
	ProdNo   string             `json:"prod_no"`
	State    ProdState          `json:"state"`
	Progress float64            `json:"progress"`
	Rows     []*ProductionOrder `json:"rows"`
}

const jobNumberPrefix = "PZ"

func FormatJobNumber(year int, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", jobNumberPrefix, year, seq)
}

// NextJobNumber allocates the next sequential job number for the current
// year. Zero-padding keeps lexicographic and numeric order aligned, so MAX()
// over the string column is safe.
func NextJobNumber(tx *gorm.DB) (string, error) {
	year := time.Now().UTC().Year()
	like := fmt.Sprintf("%s-%d-%%", jobNumberPrefix, year)
	var last *string
	err := tx.Model(&ProductionOrder{}).
		Where("prod_no LIKE ?", like).
		Select("MAX(prod_no)").
		Scan(&last).Error
	if err != nil {
		return "", err
	}
	seq := 1
	if last != nil && *last != "" {
		parts := strings.Split(*last, "-")
		if n, perr := strconv.Atoi(parts[len(parts)-1]); perr == nil {
			seq = n + 1
		}
	}
	return FormatJobNumber(year, seq), nil
}

func (row *ProductionOrder) stages() [6]StageState {
	return [6]StageState{row.StageCut, row.StageBend, row.StageFitting, row.StageAssembly, row.StageQc, row.StageStock}
}

func (row *ProductionOrder) cancelled() bool {
	return row.ProdState == ProdStateCancelled || row.Status == ProductionStatusCancelled
}

// DeriveJobState computes the group state from constituent rows. This is the
// ground truth; row-level ProdState is only a mirror.
func DeriveJobState(rows []*ProductionOrder) ProdState {
	if len(rows) == 0 {
		return ProdStateDraft
	}

	allCancelled := true
	allStockDone := true
	allQcDone := true
	anyStageTouched := false
	anyConfirmed := false
	for _, row := range rows {
		if !row.cancelled() {
			allCancelled = false
		}
		if row.StageStock != StageDone {
			allStockDone = false
		}
		if row.StageQc != StageDone {
			allQcDone = false
		}
		for _, s := range row.stages() {
			if s != StageTodo {
				anyStageTouched = true
			}
		}
		switch row.ProdState {
		case ProdStateConfirmed, ProdStateInWork, ProdStateReady, ProdStateClosed:
			anyConfirmed = true
		}
	}

	switch {
	case allCancelled:
		return ProdStateCancelled
	case allStockDone:
		return ProdStateClosed
	case allQcDone:
		return ProdStateReady
	case anyStageTouched:
		return ProdStateInWork
	case anyConfirmed:
		return ProdStateConfirmed
	default:
		return ProdStateDraft
	}
}

func stageWeight(s StageState) float64 {
	switch s {
	case StageProgress:
		return 0.5
	case StageDone:
		return 1.0
	default:
		return 0
	}
}

// RowProgress is the weighted stage average as a 0-100 percentage.
func RowProgress(row *ProductionOrder) float64 {
	total := 0.0
	for _, s := range row.stages() {
		total += stageWeight(s)
	}
	return total / 6.0 * 100.0
}

// JobProgress is the mean of the rows' percentages.
func JobProgress(rows []*ProductionOrder) float64 {
	if len(rows) == 0 {
		return 0
	}
	total := 0.0
	for _, row := range rows {
		total += RowProgress(row)
	}
	return total / float64(len(rows))
}

// applyTouchState mutates one row toward the requested group state and
// reports whether the row changed. Cancelled/closed targets force the coarse
// status too; softer targets skip rows whose stock stage is already done
// (those stay pinned to closed).
func applyTouchState(row *ProductionOrder, target ProdState) bool {
	switch target {
	case ProdStateCancelled:
		if row.ProdState == ProdStateCancelled && row.Status == ProductionStatusCancelled {
			return false
		}
		row.ProdState = ProdStateCancelled
		row.Status = ProductionStatusCancelled
		return true
	case ProdStateClosed:
		if row.ProdState == ProdStateClosed && row.Status == ProductionStatusClosed {
			return false
		}
		row.ProdState = ProdStateClosed
		row.Status = ProductionStatusClosed
		return true
	default:
		if row.StageStock == StageDone {
			// already satisfied; pinned to closed
			if row.ProdState == ProdStateClosed {
				return false
			}
			row.ProdState = ProdStateClosed
			return true
		}
		if row.ProdState == target {
			return false
		}
		row.ProdState = target
		return true
	}
}

// TouchRowsState applies a requested state to every row of a job.
func TouchRowsState(tx *gorm.DB, prodNo string, target ProdState) error {
	if !target.Valid() {
		return errors.New("invalid production state")
	}
	rows, err := jobRows(tx, prodNo)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return utils.ErrorRecordNotFound
	}
	for _, row := range rows {
		if !applyTouchState(row, target) {
			continue
		}
		updates := map[string]interface{}{
			"prod_state": row.ProdState,
			"status":     row.Status,
		}
		if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func jobRows(tx *gorm.DB, prodNo string) ([]*ProductionOrder, error) {
	var rows []*ProductionOrder
	if err := tx.Where("prod_no = ?", prodNo).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RefreshJobMirror re-derives the group state and mirrors it onto rows that
// are neither cancelled nor pinned closed by a done stock stage.
func RefreshJobMirror(tx *gorm.DB, prodNo string) error {
	rows, err := jobRows(tx, prodNo)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	state := DeriveJobState(rows)
	for _, row := range rows {
		if row.cancelled() || row.StageStock == StageDone {
			continue
		}
		if row.ProdState == state {
			continue
		}
		if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Update("prod_state", state).Error; err != nil {
			return err
		}
	}
	return nil
}

// MarkProductionStockDone completes one row's stock stage: the outstanding
// quantity becomes an incoming-goods receipt (stock_qty increment plus an
// `in` ledger row, reason=production), qty_done is forced to qty and the row
// closes. Order-tied rows still need a reservation rebalance afterward;
// workflow.CompleteProductionItem owns that.
func MarkProductionStockDone(tx *gorm.DB, row *ProductionOrder, actor string) error {
	if row.Status == ProductionStatusCancelled {
		return errors.New("row is cancelled")
	}
	if row.StageStock == StageDone {
		return nil
	}

	outstanding := row.Qty - row.QtyDone
	if outstanding > 0 {
		if err := tx.Model(&Product{}).Where("id = ?", row.ProductId).
			Update("stock_qty", gorm.Expr("stock_qty + ?", outstanding)).Error; err != nil {
			return err
		}
		comment := "production completed"
		if row.ProdNo != nil {
			comment = fmt.Sprintf("production completed (%s)", *row.ProdNo)
		}
		if _, err := RecordMovement(tx, &NewStockMovement{
			ProductId: row.ProductId,
			Qty:       outstanding,
			Type:      MovementTypeIn,
			Reason:    MovementReasonProduction,
			OrderId:   row.OrderId,
			Comment:   comment,
			Actor:     actor,
		}); err != nil {
			return err
		}
	}

	row.QtyDone = row.Qty
	row.StageStock = StageDone
	row.Status = ProductionStatusClosed
	row.ProdState = ProdStateClosed
	if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"qty_done":    row.QtyDone,
		"stage_stock": row.StageStock,
		"status":      row.Status,
		"prod_state":  row.ProdState,
	}).Error; err != nil {
		return err
	}
	if row.ProdNo != nil {
		return RefreshJobMirror(tx, *row.ProdNo)
	}
	return nil
}

// SyncOrderShortage reconciles the order's auto production rows with the
// current shortage picture: upsert a row per short product, cancel open auto
// rows no longer short. Row qty never shrinks below what is already done.
func SyncOrderShortage(tx *gorm.DB, orderId int, shortage map[int]int) error {

	var open []*ProductionOrder
	if err := tx.Where("order_id = ? AND status = ? AND source = ?", orderId, ProductionStatusOpen, ProductionSourceAuto).
		Order("id ASC").Find(&open).Error; err != nil {
		return err
	}

	byProduct := make(map[int]*ProductionOrder, len(open))
	for _, row := range open {
		byProduct[row.ProductId] = row
	}

	var prodNo *string
	for _, row := range open {
		if row.ProdNo != nil {
			prodNo = row.ProdNo
			break
		}
	}

	// stable iteration for deterministic row ids
	productIds := make([]int, 0, len(shortage))
	for pid := range shortage {
		productIds = append(productIds, pid)
	}
	sort.Ints(productIds)

	touched := make(map[string]bool)
	for _, pid := range productIds {
		missing := shortage[pid]
		if missing <= 0 {
			continue
		}
		if row, ok := byProduct[pid]; ok {
			want := missing
			if row.QtyDone > want {
				// never shrink below what was already produced
				want = row.QtyDone
			}
			if row.Qty != want {
				if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Update("qty", want).Error; err != nil {
					return err
				}
			}
			if row.ProdNo != nil {
				touched[*row.ProdNo] = true
			}
			delete(byProduct, pid)
			continue
		}

		if prodNo == nil {
			no, err := NextJobNumber(tx)
			if err != nil {
				return err
			}
			prodNo = &no
		}
		row := ProductionOrder{
			ProductId: pid,
			OrderId:   &orderId,
			Qty:       missing,
			Status:    ProductionStatusOpen,
			ProdState: ProdStateDraft,
			ProdNo:    prodNo,
			Source:    ProductionSourceAuto,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		touched[*prodNo] = true
	}

	// whatever is left open for this order is no longer short
	for _, row := range byProduct {
		if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"status":     ProductionStatusCancelled,
			"prod_state": ProdStateCancelled,
		}).Error; err != nil {
			return err
		}
		if row.ProdNo != nil {
			touched[*row.ProdNo] = true
		}
	}

	for no := range touched {
		if err := RefreshJobMirror(tx, no); err != nil {
			return err
		}
	}
	return nil
}

// CancelOpenRowsForOrder cancels every open production row tied to an order.
func CancelOpenRowsForOrder(tx *gorm.DB, orderId int) error {
	return tx.Model(&ProductionOrder{}).
		Where("order_id = ? AND status = ?", orderId, ProductionStatusOpen).
		Updates(map[string]interface{}{
			"status":     ProductionStatusCancelled,
			"prod_state": ProdStateCancelled,
		}).Error
}

// CloseOpenRowsForOrder closes open rows as fulfilled (qty_done = qty) when
// the order completes. No stock increment: fulfillment already deducted the
// reserved stock; these rows are closed as part of the order, not received.
func CloseOpenRowsForOrder(tx *gorm.DB, orderId int) error {
	return tx.Model(&ProductionOrder{}).
		Where("order_id = ? AND status = ?", orderId, ProductionStatusOpen).
		Updates(map[string]interface{}{
			"status":     ProductionStatusClosed,
			"prod_state": ProdStateClosed,
			"qty_done":   gorm.Expr("qty"),
		}).Error
}

// CreateProductionJob creates a manual job. Tying it to an order conflicts
// when that order already has open auto rows (those are reconciliation-owned).
func CreateProductionJob(ctx context.Context, input *NewProductionJob) (*ProductionJob, error) {

	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, errors.New("item qty must be positive")
		}
		if err := utils.ValidateResourceId[Product](ctx, item.ProductId); err != nil {
			return nil, errors.New("product not found")
		}
	}
	if input.OrderId != nil {
		if err := utils.ValidateResourceId[Order](ctx, *input.OrderId); err != nil {
			return nil, errors.New("order not found")
		}
		count, err := utils.ResourceCountWhere[ProductionOrder](ctx,
			"order_id = ? AND status = ? AND source = ?", *input.OrderId, ProductionStatusOpen, ProductionSourceAuto)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, utils.ErrorConflict
		}
	}

	db := config.GetDB()
	var job *ProductionJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		no, err := NextJobNumber(tx)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			row := ProductionOrder{
				ProductId:    item.ProductId,
				OrderId:      input.OrderId,
				Qty:          item.Qty,
				Status:       ProductionStatusOpen,
				ProdState:    ProdStateDraft,
				ProdNo:       &no,
				ProdAddress:  input.ProdAddress,
				DeadlineDate: input.DeadlineDate,
				Source:       ProductionSourceManual,
				Comment:      input.Comment,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		job, err = getJobTx(tx, no)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func getJobTx(tx *gorm.DB, prodNo string) (*ProductionJob, error) {
	rows, err := jobRows(tx, prodNo)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return &ProductionJob{
		ProdNo:   prodNo,
		State:    DeriveJobState(rows),
		Progress: JobProgress(rows),
		Rows:     rows,
	}, nil
}

func GetProductionJob(ctx context.Context, prodNo string) (*ProductionJob, error) {
	db := config.GetDB()
	return getJobTx(db.WithContext(ctx), prodNo)
}

// GetProductionJobs lists jobs grouped by prod_no, newest job first. Legacy
// rows without a prod_no are returned as single-row jobs keyed by row id.
func GetProductionJobs(ctx context.Context, state *ProdState) ([]*ProductionJob, error) {
	db := config.GetDB()
	var rows []*ProductionOrder
	if err := db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	grouped := make(map[string][]*ProductionOrder)
	keys := make([]string, 0)
	for _, row := range rows {
		key := ""
		if row.ProdNo != nil {
			key = *row.ProdNo
		} else {
			key = fmt.Sprintf("#%d", row.ID)
		}
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], row)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	jobs := make([]*ProductionJob, 0, len(keys))
	for _, key := range keys {
		jobRows := grouped[key]
		job := &ProductionJob{
			ProdNo:   key,
			State:    DeriveJobState(jobRows),
			Progress: JobProgress(jobRows),
			Rows:     jobRows,
		}
		if state != nil && job.State != *state {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateProductionRow patches stage flags and row attributes. The stock
// stage is excluded here; completing it has side effects and goes through
// the dedicated stock-done operation.
func UpdateProductionRow(ctx context.Context, id int, patch *ProductionRowPatch) (*ProductionOrder, error) {

	row, err := utils.FetchModel[ProductionOrder](ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status == ProductionStatusCancelled {
		return nil, errors.New("row is cancelled")
	}

	updates := map[string]interface{}{}
	if patch.Qty != nil {
		if *patch.Qty < row.QtyDone {
			return nil, errors.New("qty cannot drop below qty_done")
		}
		updates["qty"] = *patch.Qty
	}
	stagePatches := map[string]*StageState{
		"stage_cut":      patch.StageCut,
		"stage_bend":     patch.StageBend,
		"stage_fitting":  patch.StageFitting,
		"stage_assembly": patch.StageAssembly,
		"stage_qc":       patch.StageQc,
	}
	for column, s := range stagePatches {
		if s == nil {
			continue
		}
		if !s.Valid() {
			return nil, errors.New("invalid stage state")
		}
		updates[column] = *s
	}
	if patch.ProdAddress != nil {
		updates["prod_address"] = *patch.ProdAddress
	}
	if patch.DeadlineDate != nil {
		updates["deadline_date"] = *patch.DeadlineDate
	}
	if patch.Comment != nil {
		updates["comment"] = *patch.Comment
	}
	if len(updates) == 0 {
		return nil, errors.New("no fields")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ProductionOrder{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return err
		}
		if row.ProdNo != nil {
			return RefreshJobMirror(tx, *row.ProdNo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[ProductionOrder](ctx, id)
}
