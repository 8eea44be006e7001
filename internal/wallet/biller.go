package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// Charge is the billing outcome for one auction winner
type Charge struct {
	AdID         string   `json:"adId"`
	AdvertiserID string   `json:"advertiserId"`
	Receipt      *Receipt `json:"receipt,omitempty"`
	Err          error    `json:"-"`
}

// Biller submits auction winners' costs as SPEND transactions
type Biller struct {
	ledger   *Ledger
	currency string
}

// NewBiller creates a biller; currency "" bills in each wallet's own currency
func NewBiller(ledger *Ledger, currency string) *Biller {
	return &Biller{ledger: ledger, currency: currency}
}

// Charge bills every winner that names an advertiser. Costs are rounded to
// cents. A failed charge does not stop the others; their errors are joined.
func (b *Biller) Charge(ctx context.Context, winners []ads.BiddingResult) ([]Charge, error) {
	charges := make([]Charge, 0, len(winners))
	var errs []error

	for _, w := range winners {
		if w.AdvertiserID == "" || w.Cost <= 0 {
			continue
		}
		tx := Transaction{
			Type:       Spend,
			Amount:     decimal.NewFromFloat(w.Cost).Round(2),
			Currency:   b.currency,
			CampaignID: w.CampaignID,
			AdID:       w.AdID,
		}

		c := Charge{AdID: w.AdID, AdvertiserID: w.AdvertiserID}
		c.Receipt, c.Err = b.ledger.Apply(ctx, w.AdvertiserID, tx)
		if c.Err != nil {
			logger.Wallet(w.AdvertiserID).Warn().
				Err(c.Err).
				Str("ad_id", w.AdID).
				Float64("cost", w.Cost).
				Msg("failed to bill auction winner")
			errs = append(errs, fmt.Errorf("bill ad %s: %w", w.AdID, c.Err))
		}
		charges = append(charges, c)
	}

	return charges, errors.Join(errs...)
}
