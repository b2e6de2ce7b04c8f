package models

import (
	"testing"
)

func row(state ProdState, stages ...StageState) *ProductionOrder {
	r := &ProductionOrder{ProdState: state, Status: ProductionStatusOpen}
	all := []*StageState{&r.StageCut, &r.StageBend, &r.StageFitting, &r.StageAssembly, &r.StageQc, &r.StageStock}
	for i := range all {
		*all[i] = StageTodo
	}
	for i, s := range stages {
		if i < len(all) {
			*all[i] = s
		}
	}
	return r
}

func TestDeriveJobState_Draft(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateDraft),
		row(ProdStateDraft),
		row(ProdStateDraft),
	}
	if got := DeriveJobState(rows); got != ProdStateDraft {
		t.Fatalf("state = %s, want draft", got)
	}
}

func TestDeriveJobState_InWorkOnAnyStageTouched(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateDraft, StageProgress), // cut started
		row(ProdStateDraft),
	}
	if got := DeriveJobState(rows); got != ProdStateInWork {
		t.Fatalf("state = %s, want in_work", got)
	}
}

func TestDeriveJobState_ReadyWhenAllQcDone(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateInWork, StageDone, StageDone, StageDone, StageDone, StageDone, StageTodo),
		row(ProdStateInWork, StageDone, StageDone, StageDone, StageDone, StageDone, StageTodo),
	}
	if got := DeriveJobState(rows); got != ProdStateReady {
		t.Fatalf("state = %s, want ready", got)
	}
}

func TestDeriveJobState_ClosedWhenAllStockDone(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateClosed, StageDone, StageDone, StageDone, StageDone, StageDone, StageDone),
		row(ProdStateClosed, StageDone, StageDone, StageDone, StageDone, StageDone, StageDone),
	}
	if got := DeriveJobState(rows); got != ProdStateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestDeriveJobState_CancelledOnlyWhenEveryRowCancelled(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateCancelled),
		row(ProdStateDraft),
	}
	if got := DeriveJobState(rows); got == ProdStateCancelled {
		t.Fatalf("one live row must keep the job alive, got %s", got)
	}

	rows[1].Status = ProductionStatusCancelled
	if got := DeriveJobState(rows); got != ProdStateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
}

func TestDeriveJobState_ConfirmedWithoutStageWork(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateConfirmed),
		row(ProdStateDraft),
	}
	if got := DeriveJobState(rows); got != ProdStateConfirmed {
		t.Fatalf("state = %s, want confirmed", got)
	}
}

func TestRowProgress_WeightedStages(t *testing.T) {
	r := row(ProdStateInWork, StageDone, StageProgress) // 1 + 0.5 of 6
	want := (1.0 + 0.5) / 6.0 * 100.0
	if got := RowProgress(r); got != want {
		t.Fatalf("progress = %v, want %v", got, want)
	}

	done := row(ProdStateClosed, StageDone, StageDone, StageDone, StageDone, StageDone, StageDone)
	if got := RowProgress(done); got != 100.0 {
		t.Fatalf("progress = %v, want 100", got)
	}
}

func TestJobProgress_MeanOfRows(t *testing.T) {
	rows := []*ProductionOrder{
		row(ProdStateClosed, StageDone, StageDone, StageDone, StageDone, StageDone, StageDone),
		row(ProdStateDraft),
	}
	if got := JobProgress(rows); got != 50.0 {
		t.Fatalf("progress = %v, want 50", got)
	}
	if got := JobProgress(nil); got != 0 {
		t.Fatalf("progress of empty job = %v, want 0", got)
	}
}

func TestApplyTouchState_CancelForcesStatus(t *testing.T) {
	r := row(ProdStateInWork, StageProgress)
	if !applyTouchState(r, ProdStateCancelled) {
		t.Fatal("expected change")
	}
	if r.Status != ProductionStatusCancelled || r.ProdState != ProdStateCancelled {
		t.Fatalf("row = %s/%s, want cancelled/cancelled", r.Status, r.ProdState)
	}
	if applyTouchState(r, ProdStateCancelled) {
		t.Fatal("second apply must be a no-op")
	}
}

func TestApplyTouchState_StockDonePinsClosed(t *testing.T) {
	r := row(ProdStateClosed, StageDone, StageDone, StageDone, StageDone, StageDone, StageDone)
	r.Status = ProductionStatusClosed

	// a softer state must not reopen a satisfied row
	if applyTouchState(r, ProdStateInWork) {
		t.Fatal("satisfied row must stay pinned to closed")
	}
	if r.ProdState != ProdStateClosed {
		t.Fatalf("prod_state = %s, want closed", r.ProdState)
	}
}

func TestApplyTouchState_SoftTarget(t *testing.T) {
	r := row(ProdStateDraft)
	if !applyTouchState(r, ProdStateConfirmed) {
		t.Fatal("expected change")
	}
	if r.ProdState != ProdStateConfirmed || r.Status != ProductionStatusOpen {
		t.Fatalf("row = %s/%s, want open/confirmed", r.Status, r.ProdState)
	}
}

func TestFormatJobNumber(t *testing.T) {
	if got := FormatJobNumber(2026, 7); got != "PZ-2026-0007" {
		t.Fatalf("job number = %q, want PZ-2026-0007", got)
	}
	if got := FormatJobNumber(2026, 12345); got != "PZ-2026-12345" {
		t.Fatalf("job number = %q, want PZ-2026-12345", got)
	}
}
