// Package entitlements derives a user's access tier for a track (none /
// audio / audio+stems / owned) from Content Store records. Everything here
// is pure: same inputs, same output, no I/O and no errors.
package entitlements

import "github.com/wavecrate/wavecrate/internal/pkg/contentstore"

// Button labels shown by the marketplace UI for each entitlement state.
const (
	ButtonPurchase  = "Purchase Sample"
	ButtonOwned     = "Owned"
	ButtonPurchased = "Purchased"
	ButtonBuyStems  = "Buy Stems (5 credits)"
)

// Status is the derived entitlement for a (track, user) pair. It is never
// persisted; it must be recomputed on every query so it cannot drift from
// the transaction ledger.
type Status struct {
	IsOwned           bool   `json:"is_owned"`
	IsPurchased       bool   `json:"is_purchased"`
	HasAudioPurchased bool   `json:"has_audio_purchased"`
	HasStemsPurchased bool   `json:"has_stems_purchased"`
	CanPurchase       bool   `json:"can_purchase"`
	ButtonText        string `json:"button_text"`
	ButtonDisabled    bool   `json:"button_disabled"`
}

// IsOwner reports whether the user is the track's producer. The producer
// reference arrives in more than one upstream shape, so the check covers
// the direct reference, the track's producer list and the user's own track
// list. Ownership takes precedence over any purchase history.
func IsOwner(track *contentstore.Track, user *contentstore.User) bool {
	if track == nil || user == nil || user.ID == "" {
		return false
	}
	uid := user.ID.String()
	if track.Producer.Matches(uid) {
		return true
	}
	for _, p := range track.Producers {
		if p.Matches(uid) {
			return true
		}
	}
	tid := track.ID.String()
	for _, t := range user.Tracks {
		if t.Matches(tid) {
			return true
		}
	}
	return false
}

// Resolve computes the entitlement state machine. Precedence, first match
// wins: anonymous, owned, fully purchased, audio-only, unpurchased.
func Resolve(track *contentstore.Track, user *contentstore.User, tier Tier) Status {
	if user == nil || user.ID == "" {
		return Status{CanPurchase: true, ButtonText: ButtonPurchase}
	}

	if IsOwner(track, user) {
		return Status{IsOwned: true, ButtonText: ButtonOwned, ButtonDisabled: true}
	}

	switch {
	case tier.HasAudio && tier.HasStems:
		return Status{
			IsPurchased:       true,
			HasAudioPurchased: true,
			HasStemsPurchased: true,
			ButtonText:        ButtonPurchased,
			ButtonDisabled:    true,
		}
	case tier.HasAudio:
		return Status{
			IsPurchased:       true,
			HasAudioPurchased: true,
			CanPurchase:       true,
			ButtonText:        ButtonBuyStems,
		}
	default:
		return Status{CanPurchase: true, ButtonText: ButtonPurchase}
	}
}

// ResolveLegacy is the fallback when the transaction history could not be
// loaded: the user record's purchased-track list acts as a binary
// purchased/not-purchased signal, treated as audio tier only.
func ResolveLegacy(track *contentstore.Track, user *contentstore.User) Status {
	tier := Tier{}
	if track != nil && user != nil {
		tid := track.ID.String()
		for _, ref := range user.PurchasedTracks {
			if ref.Matches(tid) {
				tier.HasAudio = true
				break
			}
		}
	}
	return Resolve(track, user, tier)
}
