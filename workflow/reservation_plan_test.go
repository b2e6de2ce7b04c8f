package workflow

import (
	"testing"

	"github.com/stilva/shop_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the planner
// math the reservation engine runs against its one-shot snapshot; the full
// ledger round trips are covered by the docker-gated integration tests.

func TestPlanLine_ShortageFromStock(t *testing.T) {
	// 10 requested, 6 in stock, nobody else holds any: reserve 6, produce 4.
	plan := planLine(10, 6, 0, 0, models.SupplyModeStock)
	if plan.Desired != 6 {
		t.Fatalf("desired = %d, want 6", plan.Desired)
	}
	if plan.Delta != 6 {
		t.Fatalf("delta = %d, want 6", plan.Delta)
	}
	if plan.Missing != 4 {
		t.Fatalf("missing = %d, want 4", plan.Missing)
	}
}

func TestPlanLine_MixedMatchesStock(t *testing.T) {
	stock := planLine(10, 6, 0, 0, models.SupplyModeStock)
	mixed := planLine(10, 6, 0, 0, models.SupplyModeMixed)
	if mixed != stock {
		t.Fatalf("mixed plan %+v differs from stock plan %+v", mixed, stock)
	}
}

func TestPlanLine_MtoNeverReserves(t *testing.T) {
	plan := planLine(10, 999, 0, 0, models.SupplyModeMTO)
	if plan.Desired != 0 {
		t.Fatalf("desired = %d, want 0", plan.Desired)
	}
	if plan.Missing != 10 {
		t.Fatalf("missing = %d, want 10", plan.Missing)
	}
}

func TestPlanLine_Idempotent(t *testing.T) {
	first := planLine(10, 6, 0, 0, models.SupplyModeStock)
	// Second pass: the reservation now exists, so reserved-other stays the
	// same and current-own equals the first pass result.
	second := planLine(10, 6, 0, first.Desired, models.SupplyModeStock)
	if second.Delta != 0 {
		t.Fatalf("second delta = %d, want 0", second.Delta)
	}
	if second.Missing != first.Missing {
		t.Fatalf("second missing = %d, want %d", second.Missing, first.Missing)
	}
}

func TestPlanLine_OtherOrdersShrinkAvailability(t *testing.T) {
	// 8 in stock, 5 held by other orders: only 3 left for this order.
	plan := planLine(4, 8, 5, 0, models.SupplyModeStock)
	if plan.Desired != 3 {
		t.Fatalf("desired = %d, want 3", plan.Desired)
	}
	if plan.Missing != 1 {
		t.Fatalf("missing = %d, want 1", plan.Missing)
	}
}

func TestPlanLine_ReleasesOverhold(t *testing.T) {
	// The order holds 5 but stock shrank to 2 and another order claims 1.
	plan := planLine(5, 2, 1, 5, models.SupplyModeStock)
	if plan.Desired != 1 {
		t.Fatalf("desired = %d, want 1", plan.Desired)
	}
	if plan.Delta != -4 {
		t.Fatalf("delta = %d, want -4", plan.Delta)
	}
}

func TestPlanLine_FloorsNegativeInputs(t *testing.T) {
	plan := planLine(3, 2, -7, 0, models.SupplyModeStock)
	// negative reserved-other must not inflate availability beyond stock
	if plan.Desired != 2 {
		t.Fatalf("desired = %d, want 2", plan.Desired)
	}

	plan = planLine(3, 0, 10, 0, models.SupplyModeStock)
	if plan.Desired != 0 || plan.Missing != 3 {
		t.Fatalf("plan = %+v, want desired 0 missing 3", plan)
	}
}

func TestAllocateReceipt_FifoByRowOrder(t *testing.T) {
	// Outstanding 3 and 5, receive 6: first row filled, second gets 3.
	applied := allocateReceipt([]int{3, 5}, 6)
	if applied[0] != 3 || applied[1] != 3 {
		t.Fatalf("applied = %v, want [3 3]", applied)
	}
}

func TestAllocateReceipt_StopsWhenExhausted(t *testing.T) {
	applied := allocateReceipt([]int{4, 2, 7}, 4)
	if applied[0] != 4 || applied[1] != 0 || applied[2] != 0 {
		t.Fatalf("applied = %v, want [4 0 0]", applied)
	}
}

func TestAllocateReceipt_SurplusLeftOver(t *testing.T) {
	applied := allocateReceipt([]int{1, 2}, 10)
	if applied[0] != 1 || applied[1] != 2 {
		t.Fatalf("applied = %v, want [1 2]", applied)
	}
}

func TestAllocateReceipt_SkipsNegativeOutstanding(t *testing.T) {
	// a row over-reported as done must not absorb receipt quantity
	applied := allocateReceipt([]int{-2, 3}, 3)
	if applied[0] != 0 || applied[1] != 3 {
		t.Fatalf("applied = %v, want [0 3]", applied)
	}
}
