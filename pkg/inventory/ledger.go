// Package inventory keeps pharmacy stock as an append-only transaction
// log with a cached snapshot per (pharmacy, NDC). Allocations are
// reservations against the snapshot; only stock movements reach the
// log.
package inventory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// WitnessFraction is the downward-adjustment share above which a
// witness must co-sign.
const WitnessFraction = 0.10

// TxLog is the persistence port for the transaction stream.
type TxLog interface {
	Append(ctx context.Context, tx model.InventoryTransaction) (model.InventoryTransaction, error)
	List(ctx context.Context, pharmacyID, ndc string) ([]model.InventoryTransaction, error)
	ListByPharmacy(ctx context.Context, pharmacyID string) ([]model.InventoryTransaction, error)
}

// Ledger serializes mutations per (pharmacy, NDC) and keeps the
// snapshot consistent with the log.
type Ledger struct {
	log   TxLog
	cache SnapshotCache
	clock ports.Clock
	ids   ports.IDGen
	rec   audit.Recorder
	authz rbac.Authorizer

	mu    sync.RWMutex
	items map[string]model.InventoryItem
	locks map[string]*sync.Mutex
}

// NewLedger wires a Ledger. cache and rec may be nil.
func NewLedger(log TxLog, cache SnapshotCache, clock ports.Clock, ids ports.IDGen, rec audit.Recorder) *Ledger {
	return &Ledger{
		log: log, cache: cache, clock: clock, ids: ids, rec: rec,
		items: make(map[string]model.InventoryItem),
		locks: make(map[string]*sync.Mutex),
	}
}

// WithAuthorizer gates every stock mutation through authz.
func (l *Ledger) WithAuthorizer(authz rbac.Authorizer) *Ledger {
	l.authz = authz
	return l
}

func (l *Ledger) allowed(ctx context.Context) error {
	return rbac.Allow(ctx, l.authz, rbac.Request{
		Resource: rbac.ResMedication,
		Action:   rbac.ActUpdate,
	})
}

func itemKey(pharmacyID, ndc string) string { return pharmacyID + "|" + ndc }

// lockItem serializes operations on one (pharmacy, NDC).
func (l *Ledger) lockItem(pharmacyID, ndc string) func() {
	key := itemKey(pharmacyID, ndc)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (l *Ledger) getItem(pharmacyID, ndc string) (model.InventoryItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.items[itemKey(pharmacyID, ndc)]
	return item, ok
}

func (l *Ledger) putItem(ctx context.Context, item model.InventoryItem) {
	l.mu.Lock()
	l.items[itemKey(item.PharmacyID, item.NDC)] = item
	l.mu.Unlock()
	if l.cache != nil {
		_ = l.cache.Set(ctx, item)
	}
}

// loadItem resolves the snapshot, falling back to the shared cache.
func (l *Ledger) loadItem(ctx context.Context, pharmacyID, ndc string) (model.InventoryItem, error) {
	if item, ok := l.getItem(pharmacyID, ndc); ok {
		return item, nil
	}
	if l.cache != nil {
		item, ok, err := l.cache.Get(ctx, pharmacyID, ndc)
		if err == nil && ok {
			l.mu.Lock()
			l.items[itemKey(pharmacyID, ndc)] = item
			l.mu.Unlock()
			return item, nil
		}
	}
	return model.InventoryItem{}, rxerr.ErrNotFound.WithDetail("inventory item")
}

// Configure registers or updates item metadata: reorder point, par
// level, controlled flag. Quantities are untouched.
func (l *Ledger) Configure(ctx context.Context, item model.InventoryItem) error {
	if err := l.allowed(ctx); err != nil {
		return err
	}
	if item.PharmacyID == "" || item.NDC == "" {
		return rxerr.ErrMissingRequired.WithField("pharmacy_id, ndc")
	}
	unlock := l.lockItem(item.PharmacyID, item.NDC)
	defer unlock()

	if existing, ok := l.getItem(item.PharmacyID, item.NDC); ok {
		existing.ReorderPoint = item.ReorderPoint
		existing.ParLevel = item.ParLevel
		existing.Controlled = item.Controlled
		l.putItem(ctx, existing)
		return nil
	}
	item.OnHand = 0
	item.Allocated = 0
	l.putItem(ctx, item)
	return nil
}

// Snapshot returns the current cached state for one item.
func (l *Ledger) Snapshot(ctx context.Context, pharmacyID, ndc string) (model.InventoryItem, error) {
	return l.loadItem(ctx, pharmacyID, ndc)
}

// Allocate reserves stock for a fill. Fails with Oversold when the
// available quantity is short.
func (l *Ledger) Allocate(ctx context.Context, pharmacyID, ndc string, qty float64) error {
	if err := l.allowed(ctx); err != nil {
		return err
	}
	if qty <= 0 {
		return rxerr.ErrInvalidField.WithField("quantity")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return err
	}
	if item.Available() < qty {
		return rxerr.ErrOversold.WithDetail("available %.1f, requested %.1f", item.Available(), qty)
	}
	item.Allocated += qty
	l.putItem(ctx, item)
	return nil
}

// Deallocate releases a reservation.
func (l *Ledger) Deallocate(ctx context.Context, pharmacyID, ndc string, qty float64) error {
	if err := l.allowed(ctx); err != nil {
		return err
	}
	if qty <= 0 {
		return rxerr.ErrInvalidField.WithField("quantity")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return err
	}
	if item.Allocated < qty {
		return rxerr.ErrInvalidField.WithDetail("allocated %.1f, releasing %.1f", item.Allocated, qty)
	}
	item.Allocated -= qty
	l.putItem(ctx, item)
	return nil
}

// Dispense consumes a prior allocation: on-hand and allocated decrease
// together, and one dispense transaction is logged.
func (l *Ledger) Dispense(ctx context.Context, pharmacyID, ndc string, qty float64, fillRef string) (model.InventoryTransaction, error) {
	if err := l.allowed(ctx); err != nil {
		return model.InventoryTransaction{}, err
	}
	if qty <= 0 {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.WithField("quantity")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	if item.Allocated < qty {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.
			WithDetail("dispense %.1f exceeds allocation %.1f", qty, item.Allocated)
	}
	if item.OnHand < qty {
		return model.InventoryTransaction{}, rxerr.ErrOversold.
			WithDetail("on hand %.1f, dispensing %.1f", item.OnHand, qty)
	}

	item.OnHand -= qty
	item.Allocated -= qty
	tx, err := l.append(ctx, item, model.TxnDispense, -qty, fillRef, "", "")
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	l.putItem(ctx, item)
	l.record(ctx, "inventory.dispense", tx.ID, map[string]any{"ndc": ndc, "quantity": qty, "fill": fillRef})
	return tx, nil
}

// Receive books incoming stock against a wholesaler order.
func (l *Ledger) Receive(ctx context.Context, pharmacyID, ndc string, qty float64, lot string, expiry time.Time, cost model.Cents, orderRef string) (model.InventoryTransaction, error) {
	if err := l.allowed(ctx); err != nil {
		return model.InventoryTransaction{}, err
	}
	if qty <= 0 {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.WithField("quantity")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	item.OnHand += qty
	item.Lot = lot
	item.LotExpiry = expiry
	item.AcquisitionCost = cost

	tx := l.buildTx(ctx, item, model.TxnReceive, qty, orderRef, "", "")
	tx.Lot = lot
	tx.LotExpiry = expiry
	tx.UnitCost = cost
	tx, err = l.log.Append(ctx, tx)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	l.putItem(ctx, item)
	l.record(ctx, "inventory.receive", tx.ID, map[string]any{"ndc": ndc, "quantity": qty, "lot": lot})
	return tx, nil
}

// ReturnToStock books quantity back from a cancelled or unclaimed fill.
func (l *Ledger) ReturnToStock(ctx context.Context, pharmacyID, ndc string, qty float64, fillRef string) (model.InventoryTransaction, error) {
	return l.simpleMove(ctx, pharmacyID, ndc, qty, model.TxnReturnToStock, fillRef, "inventory.return_to_stock")
}

// ReturnToWholesaler books quantity out for credit or recall.
func (l *Ledger) ReturnToWholesaler(ctx context.Context, pharmacyID, ndc string, qty float64, ref string) (model.InventoryTransaction, error) {
	return l.simpleMove(ctx, pharmacyID, ndc, -qty, model.TxnReturnToWholesaler, ref, "inventory.return_to_wholesaler")
}

func (l *Ledger) simpleMove(ctx context.Context, pharmacyID, ndc string, delta float64, typ model.TxnType, ref, action string) (model.InventoryTransaction, error) {
	if err := l.allowed(ctx); err != nil {
		return model.InventoryTransaction{}, err
	}
	if delta == 0 {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.WithField("quantity")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	if item.OnHand+delta < 0 {
		return model.InventoryTransaction{}, rxerr.ErrOversold.
			WithDetail("on hand %.1f, moving %.1f", item.OnHand, delta)
	}
	item.OnHand += delta
	tx, err := l.append(ctx, item, typ, delta, ref, "", "")
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	l.putItem(ctx, item)
	l.record(ctx, action, tx.ID, map[string]any{"ndc": ndc, "delta": delta})
	return tx, nil
}

// Adjust corrects the on-hand count. A downward adjustment larger than
// ten percent of on-hand, or any adjustment on a controlled substance,
// requires a witness and a reason.
func (l *Ledger) Adjust(ctx context.Context, pharmacyID, ndc string, delta float64, reason, witnessID string) (model.InventoryTransaction, error) {
	if err := l.allowed(ctx); err != nil {
		return model.InventoryTransaction{}, err
	}
	if delta == 0 {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.WithField("delta")
	}
	if reason == "" {
		return model.InventoryTransaction{}, rxerr.ErrMissingRequired.WithField("reason")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return model.InventoryTransaction{}, err
	}

	needsWitness := item.Controlled ||
		(delta < 0 && item.OnHand > 0 && math.Abs(delta) > WitnessFraction*item.OnHand)
	if needsWitness && witnessID == "" {
		return model.InventoryTransaction{}, rxerr.ErrMissingRequired.WithField("witness_id")
	}
	if item.OnHand+delta < 0 {
		return model.InventoryTransaction{}, rxerr.ErrOversold.
			WithDetail("on hand %.1f, adjusting %.1f", item.OnHand, delta)
	}

	typ := model.TxnAdjustUp
	if delta < 0 {
		typ = model.TxnAdjustDown
	}
	item.OnHand += delta
	tx, err := l.append(ctx, item, typ, delta, "", reason, witnessID)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	l.putItem(ctx, item)
	l.record(ctx, "inventory.adjust", tx.ID, map[string]any{"ndc": ndc, "delta": delta, "witness": witnessID != ""})
	return tx, nil
}

// CycleCount reconciles the snapshot to a physical count, logging the
// signed difference.
func (l *Ledger) CycleCount(ctx context.Context, pharmacyID, ndc string, observed float64) (model.InventoryTransaction, error) {
	if err := l.allowed(ctx); err != nil {
		return model.InventoryTransaction{}, err
	}
	if observed < 0 {
		return model.InventoryTransaction{}, rxerr.ErrInvalidField.WithField("observed")
	}
	unlock := l.lockItem(pharmacyID, ndc)
	defer unlock()

	item, err := l.loadItem(ctx, pharmacyID, ndc)
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	delta := observed - item.OnHand
	item.OnHand = observed
	tx, err := l.append(ctx, item, model.TxnCycleCount, delta, "", "", "")
	if err != nil {
		return model.InventoryTransaction{}, err
	}
	l.putItem(ctx, item)
	l.record(ctx, "inventory.cycle_count", tx.ID, map[string]any{"ndc": ndc, "observed": observed, "delta": delta})
	return tx, nil
}

// append writes one log event carrying the post-mutation balance.
func (l *Ledger) append(ctx context.Context, item model.InventoryItem, typ model.TxnType, delta float64, ref, reason, witnessID string) (model.InventoryTransaction, error) {
	return l.log.Append(ctx, l.buildTx(ctx, item, typ, delta, ref, reason, witnessID))
}

func (l *Ledger) buildTx(ctx context.Context, item model.InventoryItem, typ model.TxnType, delta float64, ref, reason, witnessID string) model.InventoryTransaction {
	actorID := ""
	if p, err := auth.GetPrincipal(ctx); err == nil {
		actorID = p.GetID()
	}
	return model.InventoryTransaction{
		ID:             l.ids.New("itx"),
		PharmacyID:     item.PharmacyID,
		NDC:            item.NDC,
		Type:           typ,
		Delta:          delta,
		RunningBalance: item.OnHand,
		Reference:      ref,
		Reason:         reason,
		WitnessID:      witnessID,
		ActorID:        actorID,
		At:             l.clock.Now(),
	}
}

func (l *Ledger) record(ctx context.Context, action, id string, meta map[string]any) {
	if l.rec == nil {
		return
	}
	_, _ = l.rec.Record(ctx, action, "inventory_transaction", id, model.OutcomeSuccess, false, meta)
}
