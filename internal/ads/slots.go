package ads

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/thenexusengine/adslot/internal/config"
)

// SlotType is a placement opportunity type
type SlotType string

const (
	SlotSearchTop    SlotType = "SEARCH_TOP"
	SlotSearchSide   SlotType = "SEARCH_SIDE"
	SlotSearchBottom SlotType = "SEARCH_BOTTOM"
	SlotCategoryTop  SlotType = "CATEGORY_TOP"
	SlotCategorySide SlotType = "CATEGORY_SIDE"
	SlotProductTop   SlotType = "PRODUCT_TOP"
	SlotProductSide  SlotType = "PRODUCT_SIDE"
	SlotHomeBanner   SlotType = "HOME_BANNER"
	SlotHomeSidebar  SlotType = "HOME_SIDEBAR"
	SlotCheckoutTop  SlotType = "CHECKOUT_TOP"
	SlotCartSidebar  SlotType = "CART_SIDEBAR"
)

// KnownSlotTypes lists every slot type with a built-in capacity
func KnownSlotTypes() []SlotType {
	return []SlotType{
		SlotSearchTop, SlotSearchSide, SlotSearchBottom,
		SlotCategoryTop, SlotCategorySide,
		SlotProductTop, SlotProductSide,
		SlotHomeBanner, SlotHomeSidebar,
		SlotCheckoutTop, SlotCartSidebar,
	}
}

// DefaultCapacity is the fixed capacity table. Unknown types get one ad.
func DefaultCapacity(t SlotType) int {
	switch t {
	case SlotSearchTop:
		return 3
	case SlotSearchSide:
		return 1
	case SlotSearchBottom:
		return 2
	case SlotCategoryTop:
		return 4
	case SlotCategorySide:
		return 2
	case SlotProductTop:
		return 2
	case SlotProductSide:
		return 1
	case SlotHomeBanner:
		return 1
	case SlotHomeSidebar:
		return 3
	case SlotCheckoutTop:
		return 1
	case SlotCartSidebar:
		return 2
	default:
		return config.DefaultSlotCapacity
	}
}

// Slot is static configuration for a placement
type Slot struct {
	Type             SlotType `json:"type" toml:"type"`
	Capacity         int      `json:"capacity" toml:"capacity"`
	MinBidAmount     float64  `json:"minBidAmount" toml:"min_bid_amount"`
	ReservePrice     *float64 `json:"reservePrice,omitempty" toml:"reserve_price"`
	TargetCategories []string `json:"targetCategories,omitempty" toml:"target_categories"`
	TargetKeywords   []string `json:"targetKeywords,omitempty" toml:"target_keywords"`
}

// SlotTable maps slot types to their configuration
type SlotTable map[SlotType]Slot

// DefaultSlotTable returns every known slot type with its built-in capacity
// and no bid or targeting constraints
func DefaultSlotTable() SlotTable {
	table := make(SlotTable, len(KnownSlotTypes()))
	for _, t := range KnownSlotTypes() {
		table[t] = Slot{Type: t, Capacity: DefaultCapacity(t)}
	}
	return table
}

// Lookup returns the slot for t, falling back to an unconstrained slot with
// the default capacity
func (st SlotTable) Lookup(t SlotType) Slot {
	if slot, ok := st[t]; ok {
		if slot.Capacity <= 0 {
			slot.Capacity = DefaultCapacity(t)
		}
		return slot
	}
	return Slot{Type: t, Capacity: DefaultCapacity(t)}
}

// Merge returns a copy of st with overrides applied on top
func (st SlotTable) Merge(overrides []Slot) SlotTable {
	merged := make(SlotTable, len(st)+len(overrides))
	for k, v := range st {
		merged[k] = v
	}
	for _, s := range overrides {
		if s.Capacity <= 0 {
			s.Capacity = DefaultCapacity(s.Type)
		}
		merged[s.Type] = s
	}
	return merged
}

// slotFile is the TOML layout of a slot configuration file
type slotFile struct {
	Slots []Slot `toml:"slot"`
}

// DecodeSlotTable parses TOML slot overrides and merges them over the defaults
func DecodeSlotTable(data string) (SlotTable, error) {
	var f slotFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode slot config: %w", err)
	}
	for i, s := range f.Slots {
		if s.Type == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("slot[%d].type", i), Reason: "required"}
		}
		if s.MinBidAmount < 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("slot[%d].min_bid_amount", i), Reason: "must not be negative"}
		}
	}
	return DefaultSlotTable().Merge(f.Slots), nil
}

// LoadSlotTable reads a TOML slot configuration file
func LoadSlotTable(path string) (SlotTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot config: %w", err)
	}
	return DecodeSlotTable(string(data))
}
