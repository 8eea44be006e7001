package ads

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func validAd() *Ad {
	return &Ad{
		ID:         "ad-1",
		CampaignID: "camp-1",
		Title:      "Wireless headphones",
		BidAmount:  2.5,
		Status:     StatusActive,
		IsActive:   true,
		IsApproved: true,
	}
}

func TestAd_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Ad)
		wantErr bool
		field   string
	}{
		{name: "valid", mutate: func(a *Ad) {}},
		{name: "missing id", mutate: func(a *Ad) { a.ID = "" }, wantErr: true, field: "ad.id"},
		{name: "zero bid", mutate: func(a *Ad) { a.BidAmount = 0 }, wantErr: true, field: "ad.bidAmount"},
		{name: "negative bid", mutate: func(a *Ad) { a.BidAmount = -1 }, wantErr: true, field: "ad.bidAmount"},
		{name: "NaN bid", mutate: func(a *Ad) { a.BidAmount = math.NaN() }, wantErr: true, field: "ad.bidAmount"},
		{name: "infinite bid", mutate: func(a *Ad) { a.BidAmount = math.Inf(1) }, wantErr: true, field: "ad.bidAmount"},
		{name: "max below bid is left to the filter", mutate: func(a *Ad) { a.MaxBidAmount = floatPtr(1) }},
		{name: "NaN max bid", mutate: func(a *Ad) { a.MaxBidAmount = floatPtr(math.NaN()) }, wantErr: true, field: "ad.maxBidAmount"},
		{name: "quality above 10", mutate: func(a *Ad) { a.QualityScore = floatPtr(11) }, wantErr: true, field: "ad.qualityScore"},
		{name: "negative clicks", mutate: func(a *Ad) { a.Clicks = -1 }, wantErr: true, field: "ad.counters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := validAd()
			tt.mutate(ad)
			err := ad.Validate()

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestAuctionContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ctx     *AuctionContext
		wantErr bool
	}{
		{name: "nil", ctx: nil, wantErr: true},
		{name: "missing slot", ctx: &AuctionContext{Position: 1}, wantErr: true},
		{name: "zero position", ctx: &AuctionContext{SlotType: SlotSearchTop}, wantErr: true},
		{name: "unknown device", ctx: &AuctionContext{SlotType: SlotSearchTop, Position: 1, DeviceType: "fridge"}, wantErr: true},
		{name: "uppercase mobile", ctx: &AuctionContext{SlotType: SlotSearchTop, Position: 1, DeviceType: "MOBILE"}},
		{name: "unknown slot type is allowed", ctx: &AuctionContext{SlotType: "FOOTER", Position: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDeviceType_IsMobile(t *testing.T) {
	if !DeviceType("Mobile").IsMobile() {
		t.Error("expected Mobile to be mobile")
	}
	if DeviceDesktop.IsMobile() || DeviceTablet.IsMobile() {
		t.Error("expected desktop and tablet not to be mobile")
	}
}

func TestDefaultCapacity(t *testing.T) {
	expected := map[SlotType]int{
		SlotSearchTop:    3,
		SlotSearchSide:   1,
		SlotSearchBottom: 2,
		SlotCategoryTop:  4,
		SlotCategorySide: 2,
		SlotProductTop:   2,
		SlotProductSide:  1,
		SlotHomeBanner:   1,
		SlotHomeSidebar:  3,
		SlotCheckoutTop:  1,
		SlotCartSidebar:  2,
		"UNKNOWN":        1,
	}
	for slotType, capacity := range expected {
		if got := DefaultCapacity(slotType); got != capacity {
			t.Errorf("%s: expected capacity %d, got %d", slotType, capacity, got)
		}
	}
	if len(KnownSlotTypes()) != 11 {
		t.Errorf("expected 11 known slot types, got %d", len(KnownSlotTypes()))
	}
}

func TestSlotTable_Lookup(t *testing.T) {
	table := DefaultSlotTable()

	if got := table.Lookup(SlotCategoryTop); got.Capacity != 4 {
		t.Errorf("expected CATEGORY_TOP capacity 4, got %d", got.Capacity)
	}

	unknown := table.Lookup("POPUP")
	if unknown.Capacity != 1 || unknown.Type != "POPUP" {
		t.Errorf("expected unknown slot with capacity 1, got %+v", unknown)
	}

	table[SlotHomeBanner] = Slot{Type: SlotHomeBanner}
	if got := table.Lookup(SlotHomeBanner); got.Capacity != 1 {
		t.Errorf("expected zero capacity to fall back to 1, got %d", got.Capacity)
	}
}

func TestDecodeSlotTable(t *testing.T) {
	data := `
[[slot]]
type = "SEARCH_TOP"
capacity = 5
min_bid_amount = 0.5
reserve_price = 1.25
target_keywords = ["phone", "laptop"]

[[slot]]
type = "FOOTER"
target_categories = ["electronics"]
`
	table, err := DecodeSlotTable(data)
	if err != nil {
		t.Fatalf("DecodeSlotTable failed: %v", err)
	}

	top := table.Lookup(SlotSearchTop)
	if top.Capacity != 5 || top.MinBidAmount != 0.5 {
		t.Errorf("unexpected SEARCH_TOP slot: %+v", top)
	}
	if top.ReservePrice == nil || *top.ReservePrice != 1.25 {
		t.Errorf("expected reserve price 1.25, got %v", top.ReservePrice)
	}
	if !reflect.DeepEqual(top.TargetKeywords, []string{"phone", "laptop"}) {
		t.Errorf("unexpected keywords: %v", top.TargetKeywords)
	}

	footer := table.Lookup("FOOTER")
	if footer.Capacity != 1 {
		t.Errorf("expected custom slot to default to capacity 1, got %d", footer.Capacity)
	}

	if got := table.Lookup(SlotHomeSidebar); got.Capacity != 3 {
		t.Errorf("expected defaults preserved, got HOME_SIDEBAR capacity %d", got.Capacity)
	}
}

func TestDecodeSlotTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "bad toml", data: "[[slot]\ntype ="},
		{name: "missing type", data: "[[slot]]\ncapacity = 2\n"},
		{name: "negative min bid", data: "[[slot]]\ntype = \"SEARCH_TOP\"\nmin_bid_amount = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSlotTable(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadSlotTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.toml")
	if err := os.WriteFile(path, []byte("[[slot]]\ntype = \"HOME_BANNER\"\ncapacity = 2\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	table, err := LoadSlotTable(path)
	if err != nil {
		t.Fatalf("LoadSlotTable failed: %v", err)
	}
	if got := table.Lookup(SlotHomeBanner).Capacity; got != 2 {
		t.Errorf("expected HOME_BANNER capacity 2, got %d", got)
	}

	if _, err := LoadSlotTable(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWords(t *testing.T) {
	got := Words("  Best, CHEAP phones! (2024) ")
	want := []string{"best", "cheap", "phones", "2024"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(Words("")) != 0 {
		t.Error("expected no words for empty string")
	}
}
