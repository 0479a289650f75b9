package fill_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/fill"
	"github.com/openpharma/rxengine/pkg/inventory"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
)

var (
	fillNow = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	ctx = auth.WithPrincipal(context.Background(),
		&auth.BasePrincipal{ID: "tech-1", PharmacyID: "ph-1", Roles: []auth.Role{auth.RoleUser}})
)

const lisinoprilNDC = "00093505698"

type harness struct {
	filler *fill.Filler
	ledger *inventory.Ledger
	mem    *store.Memory
	rx     model.Prescription
}

func newHarness(t *testing.T, schedule model.DEASchedule, state model.RxState) *harness {
	t.Helper()
	mem := store.NewMemory()
	clock := ports.FixedClock{T: fillNow}
	ids := &ports.SeqGen{}

	ledger := inventory.NewLedger(store.NewMemoryTxLog(), nil, clock, ids, nil)
	require.NoError(t, ledger.Configure(ctx, model.InventoryItem{
		PharmacyID: "ph-1", NDC: lisinoprilNDC, ReorderPoint: 20, ParLevel: 200,
	}))
	_, err := ledger.Receive(ctx, "ph-1", lisinoprilNDC, 100, "L123", fillNow.AddDate(2, 0, 0), 1250, "po-1")
	require.NoError(t, err)

	refills := 5
	if schedule == model.ScheduleII {
		refills = 0
	}
	rx := model.Prescription{
		ID: "rx-1", RxNumber: "1000001", PatientID: "pat-1", PrescriberID: "doc-1",
		DrugNDC: lisinoprilNDC, DrugName: "Lisinopril",
		Quantity: 30, DaysSupply: 30, Sig: "Take 1 tablet daily",
		RefillsAuthorized: refills, RefillsRemaining: refills,
		WrittenDate:    fillNow.AddDate(0, 0, -3),
		ExpirationDate: fillNow.AddDate(0, 6, 0),
		State:          state,
		Schedule:       schedule,
		UpdatedAt:      fillNow,
	}
	rx, err = mem.PutPrescription(ctx, rx)
	require.NoError(t, err)
	require.NoError(t, mem.PutDrug(ctx, model.Drug{
		NDC: lisinoprilNDC, GenericName: "Lisinopril", Strength: 10,
		StrengthUnit: "mg", Form: model.FormTablet, Schedule: schedule,
	}))

	filler := fill.NewFiller(mem, ledger, clock, ids, nil, "ph-1")
	return &harness{filler: filler, ledger: ledger, mem: mem, rx: rx}
}

func TestStart_OpensFillAndReserves(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)

	f, check, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)
	assert.True(t, check.OK)
	assert.Equal(t, 0, f.FillNumber)
	assert.Equal(t, model.FillInProgress, f.Status)
	assert.Equal(t, 30.0, f.QuantityPrescribed)

	item, err := h.ledger.Snapshot(ctx, "ph-1", lisinoprilNDC)
	require.NoError(t, err)
	assert.Equal(t, 30.0, item.Allocated)
	assert.Equal(t, 100.0, item.OnHand)
}

func TestStart_SecondOpenFillRejected(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)

	_, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)
	_, _, err = h.filler.Start(ctx, h.rx.ID)
	assert.ErrorIs(t, err, rxerr.ErrDuplicateFill)
}

func TestStart_ScheduleIIRefillRejected(t *testing.T) {
	h := newHarness(t, model.ScheduleII, model.RxPickedUp)

	// One dispensed fill on record makes the next start a refill.
	rx := h.rx
	rx.FillCount = 1
	rx.LastFillDate = fillNow.AddDate(0, 0, -20)
	rx, err := h.mem.PutPrescription(ctx, rx)
	require.NoError(t, err)
	_, err = h.mem.PutFill(ctx, model.Fill{
		ID: "fill-0", PrescriptionID: rx.ID, FillNumber: 0,
		DispensedNDC: lisinoprilNDC, QuantityPrescribed: 30, QuantityDispensed: 30,
		Status: model.FillDispensed, FillDate: fillNow.AddDate(0, 0, -20),
	})
	require.NoError(t, err)

	_, _, err = h.filler.Start(ctx, rx.ID)
	assert.ErrorIs(t, err, rxerr.ErrScheduleIIRefill)

	// The rejection left no trace on the prescription.
	after, err := h.mem.GetPrescription(ctx, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RxPickedUp, after.State)
	assert.Equal(t, rx.Version, after.Version)
}

func TestStart_RefillReentersAtClaimPending(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxPickedUp)

	rx := h.rx
	rx.FillCount = 1
	rx.LastFillDate = fillNow.AddDate(0, 0, -28)
	rx, err := h.mem.PutPrescription(ctx, rx)
	require.NoError(t, err)
	_, err = h.mem.PutFill(ctx, model.Fill{
		ID: "fill-0", PrescriptionID: rx.ID, FillNumber: 0,
		DispensedNDC: lisinoprilNDC, QuantityPrescribed: 30, QuantityDispensed: 30,
		Status: model.FillDispensed, FillDate: fillNow.AddDate(0, 0, -28),
	})
	require.NoError(t, err)

	f, check, err := h.filler.Start(ctx, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.FillNumber)
	assert.Empty(t, check.Warnings)

	after, err := h.mem.GetPrescription(ctx, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RxClaimPending, after.State)
}

func TestStart_OversellFails(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)
	_, err := h.ledger.Adjust(ctx, "ph-1", lisinoprilNDC, -80, "damaged in transit", "tech-2")
	require.NoError(t, err)

	_, _, err = h.filler.Start(ctx, h.rx.ID)
	assert.ErrorIs(t, err, rxerr.ErrOversold)
}

func TestFinalize_FullCount(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)
	f, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)

	done, res, err := h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot:       "L123",
		LotExpiry: fillNow.AddDate(2, 0, 0),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, model.FillFilled, done.Status)
	assert.Equal(t, 30.0, done.QuantityDispensed)
	assert.False(t, done.IsPartialFill)
}

func TestFinalize_PartialNeedsReason(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)
	f, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)

	_, _, err = h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L123", LotExpiry: fillNow.AddDate(2, 0, 0), Quantity: 20,
	})
	assert.ErrorIs(t, err, rxerr.ErrMissingRequired)

	done, _, err := h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L123", LotExpiry: fillNow.AddDate(2, 0, 0),
		Quantity: 20, PartialReason: "insufficient stock on hand",
	})
	require.NoError(t, err)
	assert.True(t, done.IsPartialFill)
	assert.Equal(t, 10.0, done.RemainingQuantity)

	// The reservation shrinks to the counted quantity.
	item, err := h.ledger.Snapshot(ctx, "ph-1", lisinoprilNDC)
	require.NoError(t, err)
	assert.Equal(t, 20.0, item.Allocated)
}

func TestFinalize_BarcodeSetsDispensedNDC(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)
	f, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)

	done, _, err := h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L123", LotExpiry: fillNow.AddDate(2, 0, 0),
		Barcode: "0009-3505-698", // dashed 4-4-3 is not a valid layout
	})
	assert.Error(t, err)
	assert.Zero(t, done.ID)

	done, _, err = h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L123", LotExpiry: fillNow.AddDate(2, 0, 0),
		Barcode: lisinoprilNDC,
	})
	require.NoError(t, err)
	assert.Equal(t, lisinoprilNDC, done.DispensedNDC)
}

func TestFinalize_DerivesAuxLabels(t *testing.T) {
	h := newHarness(t, model.ScheduleIV, model.RxClaimPending)
	rx, err := h.mem.GetPrescription(ctx, h.rx.ID)
	require.NoError(t, err)
	rx.DrugName = "Lorazepam"
	_, err = h.mem.PutPrescription(ctx, rx)
	require.NoError(t, err)
	require.NoError(t, h.mem.PutDrug(ctx, model.Drug{
		NDC: lisinoprilNDC, GenericName: "Lorazepam", Strength: 1,
		StrengthUnit: "mg", Form: model.FormTablet, Schedule: model.ScheduleIV,
	}))

	f, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)
	done, _, err := h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L200", LotExpiry: fillNow.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	assert.Contains(t, done.AuxLabelCodes, "AUX-DROWSY")
	assert.Contains(t, done.AuxLabelCodes, "AUX-NOALC")
	assert.Contains(t, done.AuxLabelCodes, "AUX-CAUTION-CS")
}

func TestValidate_ReviewsStoredFill(t *testing.T) {
	h := newHarness(t, model.ScheduleLegend, model.RxClaimPending)
	f, _, err := h.filler.Start(ctx, h.rx.ID)
	require.NoError(t, err)
	_, _, err = h.filler.Finalize(ctx, f.ID, fill.FinalizeInput{
		Lot: "L123", LotExpiry: fillNow.AddDate(2, 0, 0),
	})
	require.NoError(t, err)

	res, err := h.filler.Validate(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
