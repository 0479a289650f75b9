package model

import "time"

// TxnType enumerates inventory movements. Dispense and the downward
// adjustments carry negative deltas.
type TxnType string

const (
	TxnReceive            TxnType = "receive"
	TxnDispense           TxnType = "dispense"
	TxnReturnToStock      TxnType = "return_to_stock"
	TxnReturnToWholesaler TxnType = "return_to_wholesaler"
	TxnAdjustUp           TxnType = "adjust_up"
	TxnAdjustDown         TxnType = "adjust_down"
	TxnTransferIn         TxnType = "transfer_in"
	TxnTransferOut        TxnType = "transfer_out"
	TxnCycleCount         TxnType = "cycle_count"
)

// InventoryItem is the cached snapshot for one (pharmacy, NDC). The
// transaction log is the source of truth; the snapshot is derived.
type InventoryItem struct {
	PharmacyID string `json:"pharmacy_id"`
	NDC        string `json:"ndc"`

	OnHand    float64 `json:"on_hand"`
	Allocated float64 `json:"allocated"`

	ReorderPoint float64 `json:"reorder_point"`
	ParLevel     float64 `json:"par_level"`

	Lot       string    `json:"lot,omitempty"`
	LotExpiry time.Time `json:"lot_expiry,omitempty"`

	AcquisitionCost Cents `json:"acquisition_cost"`
	Controlled      bool  `json:"controlled"`
}

// Available is on-hand minus allocated; never negative by invariant.
func (i InventoryItem) Available() float64 { return i.OnHand - i.Allocated }

// InventoryTransaction is one append-only ledger event.
type InventoryTransaction struct {
	ID         string  `json:"id"`
	PharmacyID string  `json:"pharmacy_id"`
	NDC        string  `json:"ndc"`
	Type       TxnType `json:"type"`

	Delta          float64 `json:"delta"`
	RunningBalance float64 `json:"running_balance"`

	Lot       string    `json:"lot,omitempty"`
	LotExpiry time.Time `json:"lot_expiry,omitempty"`
	UnitCost  Cents     `json:"unit_cost,omitempty"`

	// Reference links the event to a fill, order or adjustment record.
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
	WitnessID string `json:"witness_id,omitempty"`

	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

// ReorderEntry is one line of the reorder worklist.
type ReorderEntry struct {
	PharmacyID    string  `json:"pharmacy_id"`
	NDC           string  `json:"ndc"`
	Available     float64 `json:"available"`
	ReorderPoint  float64 `json:"reorder_point"`
	OrderQuantity float64 `json:"order_quantity"`
	Priority      int     `json:"priority"`
}

// ExpiryEntry is one line of the expiry surveillance report.
type ExpiryEntry struct {
	PharmacyID          string    `json:"pharmacy_id"`
	NDC                 string    `json:"ndc"`
	Lot                 string    `json:"lot,omitempty"`
	Expiry              time.Time `json:"expiry"`
	DaysUntilExpiration int       `json:"days_until_expiration"`
	IsExpired           bool      `json:"is_expired"`
	OnHand              float64   `json:"on_hand"`
}
