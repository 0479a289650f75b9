package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
)

var ctx = context.Background()

func TestMemory_PatientRoundTrip(t *testing.T) {
	m := store.NewMemory()
	dob := time.Date(1980, 4, 2, 0, 0, 0, 0, time.UTC)
	p, err := m.PutPatient(ctx, model.Patient{ID: "pat-1", MRN: "MRN001", DOB: dob})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	got, err := m.GetPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "MRN001", got.MRN)

	byMRN, err := m.FindPatientByMRN(ctx, "MRN001", dob)
	require.NoError(t, err)
	assert.Equal(t, "pat-1", byMRN.ID)

	_, err = m.FindPatientByMRN(ctx, "MRN001", dob.AddDate(0, 0, 1))
	assert.True(t, errors.Is(err, rxerr.ErrNotFound))
}

func TestMemory_OptimisticVersioning(t *testing.T) {
	m := store.NewMemory()
	p, err := m.PutPatient(ctx, model.Patient{ID: "pat-1", MRN: "MRN001"})
	require.NoError(t, err)

	// Update with the current version succeeds.
	p.Phone = "555-0100"
	p, err = m.PutPatient(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)

	// A stale writer loses.
	stale := p
	stale.Version = 1
	_, err = m.PutPatient(ctx, stale)
	assert.True(t, errors.Is(err, rxerr.ErrConcurrentMutation))

	// A second create of an existing aggregate loses too.
	_, err = m.PutPatient(ctx, model.Patient{ID: "pat-1"})
	assert.True(t, errors.Is(err, rxerr.ErrConcurrentMutation))
}

func TestMemory_GetMissing(t *testing.T) {
	m := store.NewMemory()
	_, err := m.GetPrescription(ctx, "nope")
	assert.True(t, errors.Is(err, rxerr.ErrNotFound))
	_, err = m.GetFill(ctx, "nope")
	assert.True(t, errors.Is(err, rxerr.ErrNotFound))
	_, err = m.GetClaim(ctx, "nope")
	assert.True(t, errors.Is(err, rxerr.ErrNotFound))
}

func TestMemory_RxNumberUniquePerPatient(t *testing.T) {
	m := store.NewMemory()
	rx := model.Prescription{
		ID: "rx-1", RxNumber: "1000001", PatientID: "pat-1",
		WrittenDate:    time.Now(),
		ExpirationDate: time.Now().AddDate(1, 0, 0),
	}
	_, err := m.PutPrescription(ctx, rx)
	require.NoError(t, err)

	dup := rx
	dup.ID = "rx-2"
	_, err = m.PutPrescription(ctx, dup)
	assert.True(t, errors.Is(err, rxerr.ErrInvalidField))

	// Same number for a different patient is fine.
	other := rx
	other.ID = "rx-3"
	other.PatientID = "pat-2"
	_, err = m.PutPrescription(ctx, other)
	assert.NoError(t, err)
}

func TestMemory_FillNumbersDense(t *testing.T) {
	m := store.NewMemory()

	f0, err := m.PutFill(ctx, model.Fill{ID: "fill-0", PrescriptionID: "rx-1", FillNumber: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f0.Version)

	// Duplicate fill number.
	_, err = m.PutFill(ctx, model.Fill{ID: "fill-x", PrescriptionID: "rx-1", FillNumber: 0})
	assert.True(t, errors.Is(err, rxerr.ErrDuplicateFill))

	// Gap in the sequence.
	_, err = m.PutFill(ctx, model.Fill{ID: "fill-2", PrescriptionID: "rx-1", FillNumber: 2})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidField))

	// Next dense number.
	_, err = m.PutFill(ctx, model.Fill{ID: "fill-1", PrescriptionID: "rx-1", FillNumber: 1})
	assert.NoError(t, err)

	fills, err := m.ListFillsByPrescription(ctx, "rx-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, 0, fills[0].FillNumber)
	assert.Equal(t, 1, fills[1].FillNumber)
}

func TestMemory_OneOpenSessionPerFill(t *testing.T) {
	m := store.NewMemory()
	s1 := model.VerificationSession{ID: "vs-1", FillID: "fill-1", State: model.VerifyInProgress}
	_, err := m.PutSession(ctx, s1)
	require.NoError(t, err)

	_, err = m.PutSession(ctx, model.VerificationSession{ID: "vs-2", FillID: "fill-1", State: model.VerifyInProgress})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidField))

	open, err := m.OpenSessionForFill(ctx, "fill-1")
	require.NoError(t, err)
	assert.Equal(t, "vs-1", open.ID)

	// Close it; a new session may open.
	open.State = model.VerifyRejected
	_, err = m.PutSession(ctx, open)
	require.NoError(t, err)

	_, err = m.OpenSessionForFill(ctx, "fill-1")
	assert.True(t, errors.Is(err, rxerr.ErrNotFound))

	_, err = m.PutSession(ctx, model.VerificationSession{ID: "vs-3", FillID: "fill-1", State: model.VerifyInProgress})
	assert.NoError(t, err)
}

func TestMemory_ClaimsOrderedByAttempt(t *testing.T) {
	m := store.NewMemory()
	for i, id := range []string{"c-b", "c-a", "c-c"} {
		_, err := m.PutClaim(ctx, model.Claim{ID: id, FillID: "fill-1", AttemptNo: 3 - i})
		require.NoError(t, err)
	}
	claims, err := m.ListClaimsByFill(ctx, "fill-1")
	require.NoError(t, err)
	require.Len(t, claims, 3)
	for i, c := range claims {
		assert.Equal(t, i+1, c.AttemptNo)
	}
}

func TestMemory_PrescriptionsNewestFirst(t *testing.T) {
	m := store.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := m.PutPrescription(ctx, model.Prescription{
			ID: "rx-" + string(rune('a'+i)), RxNumber: "100000" + string(rune('0'+i)),
			PatientID:      "pat-1",
			WrittenDate:    base.AddDate(0, 0, i),
			ExpirationDate: base.AddDate(1, 0, 0),
		})
		require.NoError(t, err)
	}
	list, err := m.ListPrescriptionsByPatient(ctx, "pat-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].WrittenDate.After(list[1].WrittenDate))
	assert.True(t, list[1].WrittenDate.After(list[2].WrittenDate))
}
