package audit_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/model"
)

func pharmacistCtx() context.Context {
	return auth.WithPrincipal(context.Background(), &auth.BasePrincipal{
		ID: "rph-1", PharmacyID: "ph-1", Roles: []auth.Role{auth.RolePharmacist},
	})
}

func TestRecord_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	log := audit.NewLogWithWriter(&buf)

	entry, err := log.Record(pharmacistCtx(), "rx.transition", "prescription", "rx-1",
		model.OutcomeSuccess, true, map[string]any{"from": "intake", "to": "data_entry"})
	require.NoError(t, err)

	assert.Equal(t, "rph-1", entry.ActorID)
	assert.Equal(t, "PHARMACIST", entry.ActorRole)
	assert.NotEmpty(t, entry.Hash)
	assert.Empty(t, entry.PrevHash)
	assert.True(t, strings.HasPrefix(buf.String(), "AUDIT: "))
	assert.Contains(t, buf.String(), `"rx.transition"`)
}

func TestRecord_SystemActorWithoutPrincipal(t *testing.T) {
	log := audit.NewLogWithWriter(&bytes.Buffer{})
	entry, err := log.Record(context.Background(), "inventory.expiry_scan", "inventory", "ph-1",
		model.OutcomeSuccess, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "system", entry.ActorID)
}

func TestHashChain_PerResourceStream(t *testing.T) {
	log := audit.NewLogWithWriter(&bytes.Buffer{})
	ctx := pharmacistCtx()

	e1, err := log.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)
	e2, err := log.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)
	other, err := log.Record(ctx, "rx.transition", "prescription", "rx-2", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)

	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.Empty(t, other.PrevHash, "rx-2 starts its own stream")

	entries, err := log.Query(ctx, audit.Filter{Resource: "prescription", ResourceID: "rx-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, -1, audit.VerifyChain(entries))

	// Tamper: chain verification pinpoints the break.
	entries[1].Action = "rx.cancel"
	assert.Equal(t, 1, audit.VerifyChain(entries))
}

func TestQuery_Filters(t *testing.T) {
	log := audit.NewLogWithWriter(&bytes.Buffer{}).WithClock(func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	})
	ctx := pharmacistCtx()
	_, err := log.Record(ctx, "claim.submit", "claim", "cl-1", model.OutcomeSuccess, false, nil)
	require.NoError(t, err)

	got, err := log.Query(ctx, audit.Filter{Since: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = log.Query(ctx, audit.Filter{ActorID: "rph-1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewLogFromReader_ContinuesChain(t *testing.T) {
	var sink bytes.Buffer
	log := audit.NewLogWithWriter(&sink)
	ctx := pharmacistCtx()
	e1, err := log.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)
	e2, err := log.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)

	reloaded, err := audit.NewLogFromReader(bytes.NewReader(sink.Bytes()), &bytes.Buffer{})
	require.NoError(t, err)

	entries, err := reloaded.Query(ctx, audit.Filter{Resource: "prescription", ResourceID: "rx-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e1.Hash, entries[0].Hash)
	assert.Equal(t, -1, audit.VerifyChain(entries))

	// New entries pick up where the sink left off.
	e3, err := reloaded.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)
	assert.Equal(t, e2.Hash, e3.PrevHash)
}

func TestNewLogFromReader_RejectsGarbage(t *testing.T) {
	_, err := audit.NewLogFromReader(strings.NewReader("AUDIT: {not json\n"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestExporter_GeneratePack(t *testing.T) {
	log := audit.NewLogWithWriter(&bytes.Buffer{})
	ctx := pharmacistCtx()
	_, err := log.Record(ctx, "rx.transition", "prescription", "rx-1", model.OutcomeSuccess, true, nil)
	require.NoError(t, err)

	pack, checksum, err := audit.NewExporter(log).GeneratePack(ctx, audit.ExportRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, pack)
	assert.Len(t, checksum, 64)
}

func TestExporter_InvalidRange(t *testing.T) {
	log := audit.NewLogWithWriter(&bytes.Buffer{})
	_, _, err := audit.NewExporter(log).GeneratePack(context.Background(), audit.ExportRequest{
		Since: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}
