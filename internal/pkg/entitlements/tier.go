package entitlements

import (
	"math"
	"strings"

	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
)

// Details tag markers for what a transaction bought. New debit transactions
// always carry one of these; see PurchaseDetails.
const (
	DetailsAudio = "audio"
	DetailsStems = "stems"
)

// Historical price points, used only to classify old transactions that
// predate the details tag. Prefer the tag whenever it is present.
const (
	priceAudio     = 2.5
	priceStems     = 5.0
	priceFullStems = 7.5
)

const priceEpsilon = 1e-9

// Tier is the purchase tier derived from a transaction history. Stems
// implies audio; Normalize enforces that monotonicity.
type Tier struct {
	HasAudio bool `json:"has_audio"`
	HasStems bool `json:"has_stems"`
}

// Normalize enforces the monotonic tier law: stems access implies audio
// access.
func (t Tier) Normalize() Tier {
	if t.HasStems {
		t.HasAudio = true
	}
	return t
}

// PurchaseTier scans a user's transactions for entries that resolve to the
// given track and derives the access tier. The details tag is the preferred
// signal; amounts matching known price points are a compatibility shim for
// historical rows without a tag.
func PurchaseTier(txs []contentstore.CreditTransaction, trackID string) Tier {
	var tier Tier
	id := strings.TrimSpace(trackID)
	if id == "" {
		return tier
	}

	for _, tx := range txs {
		if !tx.Track.Matches(id) {
			continue
		}
		details := strings.ToLower(tx.Details)
		abs := math.Abs(tx.Amount)

		if strings.Contains(details, DetailsStems) || priceEquals(abs, priceStems) || priceEquals(abs, priceFullStems) {
			tier.HasStems = true
		}
		if strings.Contains(details, DetailsAudio) || priceEquals(abs, priceAudio) {
			tier.HasAudio = true
		}
	}

	return tier.Normalize()
}

// PurchaseDetails returns the details tag a new debit transaction must
// carry for the tier it buys.
func PurchaseDetails(withStems bool) string {
	if withStems {
		return DetailsAudio + "+" + DetailsStems
	}
	return DetailsAudio
}

func priceEquals(a, b float64) bool {
	return math.Abs(a-b) < priceEpsilon
}
