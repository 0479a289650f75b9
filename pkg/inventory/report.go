package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
)

// ExpiryHorizonDays bounds the expiry surveillance window.
const ExpiryHorizonDays = 90

// ReorderList returns items at or below their reorder point, highest
// priority first. Order quantity restores the par level.
func (l *Ledger) ReorderList(ctx context.Context, pharmacyID string) []model.ReorderEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.ReorderEntry
	for _, item := range l.items {
		if item.PharmacyID != pharmacyID || item.Available() > item.ReorderPoint {
			continue
		}
		out = append(out, model.ReorderEntry{
			PharmacyID:    item.PharmacyID,
			NDC:           item.NDC,
			Available:     item.Available(),
			ReorderPoint:  item.ReorderPoint,
			OrderQuantity: item.ParLevel - item.Available(),
			Priority:      reorderPriority(item),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].NDC < out[j].NDC
	})
	return out
}

func reorderPriority(item model.InventoryItem) int {
	avail := item.Available()
	switch {
	case avail <= 0:
		return 10
	case avail < 0.25*item.ReorderPoint:
		return 9
	case avail < 0.5*item.ReorderPoint:
		return 7
	case avail <= item.ReorderPoint:
		return 5
	}
	return 3
}

// ExpiryScan lists lots expiring within the horizon, soonest first.
func (l *Ledger) ExpiryScan(ctx context.Context, pharmacyID string, now time.Time) []model.ExpiryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	horizon := now.AddDate(0, 0, ExpiryHorizonDays)
	var out []model.ExpiryEntry
	for _, item := range l.items {
		if item.PharmacyID != pharmacyID || item.LotExpiry.IsZero() || item.LotExpiry.After(horizon) {
			continue
		}
		days := int(item.LotExpiry.Sub(now).Hours() / 24)
		out = append(out, model.ExpiryEntry{
			PharmacyID:          item.PharmacyID,
			NDC:                 item.NDC,
			Lot:                 item.Lot,
			Expiry:              item.LotExpiry,
			DaysUntilExpiration: days,
			IsExpired:           item.LotExpiry.Before(now),
			OnHand:              item.OnHand,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Expiry.Equal(out[j].Expiry) {
			return out[i].Expiry.Before(out[j].Expiry)
		}
		return out[i].NDC < out[j].NDC
	})
	return out
}

// Discrepancy is one snapshot whose on-hand disagrees with the summed
// log deltas.
type Discrepancy struct {
	PharmacyID string
	NDC        string
	LogSum     float64
	Snapshot   float64
}

// Reconcile verifies every snapshot for the pharmacy against its log
// stream. It reports discrepancies without repairing them; Rebuild
// repairs.
func (l *Ledger) Reconcile(ctx context.Context, pharmacyID string) ([]Discrepancy, error) {
	txns, err := l.log.ListByPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}
	sums := map[string]float64{}
	for _, tx := range txns {
		sums[tx.NDC] += tx.Delta
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Discrepancy
	for ndc, sum := range sums {
		item, ok := l.items[itemKey(pharmacyID, ndc)]
		if !ok || item.OnHand != sum {
			out = append(out, Discrepancy{
				PharmacyID: pharmacyID,
				NDC:        ndc,
				LogSum:     sum,
				Snapshot:   item.OnHand,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NDC < out[j].NDC })
	return out, nil
}

// Rebuild recomputes every snapshot's on-hand from the log, keeping
// reservations and metadata.
func (l *Ledger) Rebuild(ctx context.Context, pharmacyID string) error {
	if err := l.allowed(ctx); err != nil {
		return err
	}
	txns, err := l.log.ListByPharmacy(ctx, pharmacyID)
	if err != nil {
		return err
	}
	sums := map[string]float64{}
	for _, tx := range txns {
		sums[tx.NDC] += tx.Delta
	}

	l.mu.Lock()
	rebuilt := make([]model.InventoryItem, 0, len(sums))
	for ndc, sum := range sums {
		key := itemKey(pharmacyID, ndc)
		item, ok := l.items[key]
		if !ok {
			item = model.InventoryItem{PharmacyID: pharmacyID, NDC: ndc}
		}
		item.OnHand = sum
		l.items[key] = item
		rebuilt = append(rebuilt, item)
	}
	l.mu.Unlock()

	if l.cache != nil {
		for _, item := range rebuilt {
			_ = l.cache.Set(ctx, item)
		}
	}
	return nil
}
