package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stilva/shop_backend/config"
	"github.com/stilva/shop_backend/models"
	"github.com/stilva/shop_backend/utils"
	"github.com/stilva/shop_backend/workflow"
	"gorm.io/gorm"
)

func TestOrderReservationLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shop_test")
	// Status changes must apply stock effects synchronously for the asserts
	// below; the outbox record still gets written either way.
	t.Setenv("INLINE_STOCK_SYNC", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := config.GetLogger()

	// Ledger rows and history records carry the acting user.
	ctx = utils.SetActorInContext(ctx, "itest")

	shelf, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Shelf 2000x600",
		Price:      decimal.NewFromInt(4500),
		Published:  utils.NewTrue(),
		StockQty:   10,
		SupplyMode: models.SupplyModeStock,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// 1) New order does not reserve anything yet.
	order1, err := workflow.PlaceOrder(ctx, logger, &models.NewOrder{
		CustomerName: "Ivanov",
		Phone:        "+79990001122",
		Total:        decimal.NewFromInt(27000),
		Items: []models.NewOrderItem{
			{ProductId: &shelf.ID, Name: shelf.Name, Qty: 6},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder(order1): %v", err)
	}
	if order1.Status != models.OrderStatusNew {
		t.Fatalf("order1 status = %s, want New", order1.Status)
	}
	if got := reservedFor(t, db, order1.ID, shelf.ID); got != 0 {
		t.Fatalf("reserved after place = %d, want 0", got)
	}

	// 2) Moving to InProgress reserves the full line.
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order1.ID, models.OrderStatusInProgress); err != nil {
		t.Fatalf("ChangeOrderStatus(order1, InProgress): %v", err)
	}
	if got := reservedFor(t, db, order1.ID, shelf.ID); got != 6 {
		t.Fatalf("reserved = %d, want 6", got)
	}

	// 3) Reconciliation is idempotent: a second pass writes no movements.
	before := movementCount(t, db, order1.ID)
	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.ApplyReservation(tx.WithContext(ctx), logger, order1.ID)
	})
	if err != nil {
		t.Fatalf("ApplyReservation(repeat): %v", err)
	}
	if after := movementCount(t, db, order1.ID); after != before {
		t.Fatalf("repeat reconciliation wrote %d movements", after-before)
	}

	// 4) A second order over-asks: partial reserve plus an auto production row.
	order2, err := workflow.PlaceOrder(ctx, logger, &models.NewOrder{
		CustomerName: "Petrova",
		Phone:        "+79990003344",
		Total:        decimal.NewFromInt(36000),
		Items: []models.NewOrderItem{
			{ProductId: &shelf.ID, Name: shelf.Name, Qty: 8},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder(order2): %v", err)
	}
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order2.ID, models.OrderStatusInProgress); err != nil {
		t.Fatalf("ChangeOrderStatus(order2, InProgress): %v", err)
	}
	if got := reservedFor(t, db, order2.ID, shelf.ID); got != 4 {
		t.Fatalf("reserved(order2) = %d, want 4 (10 stock - 6 held)", got)
	}

	var autoRow models.ProductionOrder
	if err := db.Where("order_id = ? AND source = ?", order2.ID, models.ProductionSourceAuto).First(&autoRow).Error; err != nil {
		t.Fatalf("fetch auto production row: %v", err)
	}
	if autoRow.Qty != 4 || autoRow.Status != models.ProductionStatusOpen {
		t.Fatalf("auto row qty=%d status=%s, want qty=4 open", autoRow.Qty, autoRow.Status)
	}
	if autoRow.ProdNo == nil || !strings.HasPrefix(*autoRow.ProdNo, "PZ-") {
		t.Fatalf("auto row prod_no = %v, want PZ-...", autoRow.ProdNo)
	}

	avail, err := models.GetProductAvailability(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("GetProductAvailability: %v", err)
	}
	if avail.StockQty != 10 || avail.Reserved != 10 || avail.Available != 0 || avail.OnOrder != 4 {
		t.Fatalf("availability = %+v, want stock=10 reserved=10 available=0 on_order=4", avail)
	}

	// 5) Incoming receipt advances the production row and tops up the
	// short order inside the same transaction.
	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.ReceiveIncoming(tx.WithContext(ctx), logger, &workflow.NewIncomingReceipt{
			Lines: []workflow.NewIncomingLine{{ProductId: shelf.ID, Qty: 3}},
		})
	})
	if err != nil {
		t.Fatalf("ReceiveIncoming: %v", err)
	}
	if got := productStock(t, db, shelf.ID); got != 13 {
		t.Fatalf("stock after receipt = %d, want 13", got)
	}
	if err := db.First(&autoRow, autoRow.ID).Error; err != nil {
		t.Fatalf("refetch auto row: %v", err)
	}
	if autoRow.QtyDone != 3 || autoRow.Status != models.ProductionStatusOpen {
		t.Fatalf("auto row done=%d status=%s, want done=3 open", autoRow.QtyDone, autoRow.Status)
	}
	// rebalance re-sizes the row: shortage shrank to 1 but qty never drops
	// below what was already produced
	if autoRow.Qty != 3 {
		t.Fatalf("auto row qty = %d, want 3", autoRow.Qty)
	}
	if got := reservedFor(t, db, order2.ID, shelf.ID); got != 7 {
		t.Fatalf("reserved(order2) after receipt = %d, want 7", got)
	}

	// 6) Completion deducts stock, drops the hold and posts income.
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order1.ID, models.OrderStatusCompleted); err != nil {
		t.Fatalf("ChangeOrderStatus(order1, Completed): %v", err)
	}
	if got := productStock(t, db, shelf.ID); got != 7 {
		t.Fatalf("stock after completion = %d, want 7", got)
	}
	if got := reservedFor(t, db, order1.ID, shelf.ID); got != 0 {
		t.Fatalf("reserved(order1) after completion = %d, want 0", got)
	}
	entries, err := models.GetCashflowEntries(ctx, &order1.ID)
	if err != nil {
		t.Fatalf("GetCashflowEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != models.CashflowStatusPosted {
		t.Fatalf("cashflow entries = %d, want 1 posted", len(entries))
	}
	if entries[0].Amount.Cmp(decimal.NewFromInt(27000)) != 0 {
		t.Fatalf("income amount = %s, want 27000", entries[0].Amount.String())
	}

	// 7) Backing out of Completed restores the deducted stock, re-reserves
	// what is available and voids the income.
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order1.ID, models.OrderStatusInProgress); err != nil {
		t.Fatalf("ChangeOrderStatus(order1, back to InProgress): %v", err)
	}
	if got := productStock(t, db, shelf.ID); got != 13 {
		t.Fatalf("stock after unwind = %d, want 13", got)
	}
	if got := reservedFor(t, db, order1.ID, shelf.ID); got != 6 {
		t.Fatalf("reserved(order1) after unwind = %d, want 6", got)
	}
	entries, err = models.GetCashflowEntries(ctx, &order1.ID)
	if err != nil {
		t.Fatalf("GetCashflowEntries(after unwind): %v", err)
	}
	for _, e := range entries {
		if e.Kind == models.CashflowKindIncome && e.Status == models.CashflowStatusPosted {
			t.Fatalf("income still posted after unwind")
		}
	}

	// 8) Cancelling releases the hold and cancels open auto rows.
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order2.ID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("ChangeOrderStatus(order2, Cancelled): %v", err)
	}
	if got := reservedFor(t, db, order2.ID, shelf.ID); got != 0 {
		t.Fatalf("reserved(order2) after cancel = %d, want 0", got)
	}
	if err := db.First(&autoRow, autoRow.ID).Error; err != nil {
		t.Fatalf("refetch auto row after cancel: %v", err)
	}
	if autoRow.Status != models.ProductionStatusCancelled {
		t.Fatalf("auto row status after cancel = %s, want cancelled", autoRow.Status)
	}
	if got := productStock(t, db, shelf.ID); got != 13 {
		t.Fatalf("stock after cancel = %d, want 13 (cancel must not touch stock)", got)
	}

	// 9) A write-off below the held reservations clamps availability at
	// zero instead of serving a negative figure.
	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.AdjustStock(tx.WithContext(ctx), logger, &workflow.NewStockAdjustment{
			ProductId: shelf.ID,
			Delta:     -20,
			Comment:   "damaged batch written off",
		})
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if got := productStock(t, db, shelf.ID); got != 0 {
		t.Fatalf("stock after write-off = %d, want 0", got)
	}
	avail, err = models.GetProductAvailability(ctx, shelf.ID)
	if err != nil {
		t.Fatalf("GetProductAvailability(after write-off): %v", err)
	}
	if avail.Reserved != 6 || avail.Available != 0 {
		t.Fatalf("availability after write-off = %+v, want reserved=6 available=0", avail)
	}
}

func TestIncomingReceiptConsumesProductionFifo(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shop_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := config.GetLogger()
	ctx = utils.SetActorInContext(ctx, "itest")

	rack, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Rack 2500x1000",
		Published:  utils.NewTrue(),
		SupplyMode: models.SupplyModeMixed,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	jobA, err := models.CreateProductionJob(ctx, &models.NewProductionJob{
		Items: []models.NewProductionItem{{ProductId: rack.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("CreateProductionJob(A): %v", err)
	}
	jobB, err := models.CreateProductionJob(ctx, &models.NewProductionJob{
		Items: []models.NewProductionItem{{ProductId: rack.ID, Qty: 5}},
	})
	if err != nil {
		t.Fatalf("CreateProductionJob(B): %v", err)
	}
	if jobA.ProdNo == jobB.ProdNo {
		t.Fatalf("jobs share prod_no %q", jobA.ProdNo)
	}

	// Receive 6: the oldest row (3) closes, the next (5) advances to 3.
	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.ReceiveIncoming(tx.WithContext(ctx), logger, &workflow.NewIncomingReceipt{
			Lines: []workflow.NewIncomingLine{{ProductId: rack.ID, Qty: 6}},
		})
	})
	if err != nil {
		t.Fatalf("ReceiveIncoming: %v", err)
	}
	if got := productStock(t, db, rack.ID); got != 6 {
		t.Fatalf("stock after receipt = %d, want 6", got)
	}

	rowA := jobA.Rows[0]
	rowB := jobB.Rows[0]
	if err := db.First(rowA, rowA.ID).Error; err != nil {
		t.Fatalf("refetch row A: %v", err)
	}
	if err := db.First(rowB, rowB.ID).Error; err != nil {
		t.Fatalf("refetch row B: %v", err)
	}
	if rowA.QtyDone != 3 || rowA.Status != models.ProductionStatusClosed || rowA.StageStock != models.StageDone {
		t.Fatalf("row A = done %d/%d %s, want closed 3/3", rowA.QtyDone, rowA.Qty, rowA.Status)
	}
	if rowB.QtyDone != 3 || rowB.Status != models.ProductionStatusOpen {
		t.Fatalf("row B = done %d/%d %s, want open 3/5", rowB.QtyDone, rowB.Qty, rowB.Status)
	}

	// Closing the remainder by hand receives only the outstanding units.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := workflow.CompleteProductionItem(tx.WithContext(ctx), logger, rowB.ID)
		return err
	})
	if err != nil {
		t.Fatalf("CompleteProductionItem: %v", err)
	}
	if got := productStock(t, db, rack.ID); got != 8 {
		t.Fatalf("stock after stock-done = %d, want 8 (6 received + 2 outstanding)", got)
	}
	if err := db.First(rowB, rowB.ID).Error; err != nil {
		t.Fatalf("refetch row B: %v", err)
	}
	if rowB.QtyDone != 5 || rowB.Status != models.ProductionStatusClosed {
		t.Fatalf("row B = done %d %s, want closed 5", rowB.QtyDone, rowB.Status)
	}

	job, err := models.GetProductionJob(ctx, jobB.ProdNo)
	if err != nil {
		t.Fatalf("GetProductionJob: %v", err)
	}
	if job.State != models.ProdStateClosed {
		t.Fatalf("job state = %s, want closed", job.State)
	}
}

// An mto line routes its full quantity to production even when stock is on
// hand, and a from-order refresh must preserve that demand rather than
// cancelling the open auto row.
func TestRefreshFromOrderKeepsMtoDemand(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shop_test")
	t.Setenv("INLINE_STOCK_SYNC", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := config.GetLogger()
	ctx = utils.SetActorInContext(ctx, "itest")

	bench, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Workbench 1800x750",
		Published:  utils.NewTrue(),
		StockQty:   5,
		SupplyMode: models.SupplyModeMTO,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	order, err := workflow.PlaceOrder(ctx, logger, &models.NewOrder{
		CustomerName: "Petrov",
		Phone:        "+79995554433",
		Items: []models.NewOrderItem{
			{ProductId: &bench.ID, Name: bench.Name, Qty: 5},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := workflow.ChangeOrderStatus(ctx, logger, order.ID, models.OrderStatusInProgress); err != nil {
		t.Fatalf("ChangeOrderStatus(InProgress): %v", err)
	}

	// mto: nothing reserved, the whole line goes to production.
	if got := reservedFor(t, db, order.ID, bench.ID); got != 0 {
		t.Fatalf("reserved = %d, want 0 for mto", got)
	}
	var autoRow models.ProductionOrder
	if err := db.Where("order_id = ? AND source = ?", order.ID, models.ProductionSourceAuto).First(&autoRow).Error; err != nil {
		t.Fatalf("fetch auto production row: %v", err)
	}
	if autoRow.Qty != 5 || autoRow.Status != models.ProductionStatusOpen {
		t.Fatalf("auto row qty=%d status=%s, want qty=5 open", autoRow.Qty, autoRow.Status)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.RefreshJobFromOrder(tx.WithContext(ctx), logger, order.ID)
	})
	if err != nil {
		t.Fatalf("RefreshJobFromOrder: %v", err)
	}
	if err := db.First(&autoRow, autoRow.ID).Error; err != nil {
		t.Fatalf("refetch auto row: %v", err)
	}
	if autoRow.Qty != 5 || autoRow.Status != models.ProductionStatusOpen {
		t.Fatalf("auto row after refresh qty=%d status=%s, want qty=5 open", autoRow.Qty, autoRow.Status)
	}
}

func reservedFor(t *testing.T, db *gorm.DB, orderId, productId int) int {
	t.Helper()
	held, err := models.ReservedByOrder(db, orderId)
	if err != nil {
		t.Fatalf("ReservedByOrder: %v", err)
	}
	return held[productId]
}

func movementCount(t *testing.T, db *gorm.DB, orderId int) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.StockMovement{}).Where("order_id = ?", orderId).Count(&n).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	return n
}

func productStock(t *testing.T, db *gorm.DB, productId int) int {
	t.Helper()
	var p models.Product
	if err := db.First(&p, productId).Error; err != nil {
		t.Fatalf("fetch product: %v", err)
	}
	return p.StockQty
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shop-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shop-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=shop_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
