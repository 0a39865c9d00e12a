package room

// resolveBest returns the lowest-priced offer. Ties go to the seller whose
// first offer arrived earliest, so re-evaluating an unchanged offer map
// always yields the same winner.
func resolveBest(offers map[string]Offer, arrival []string) *BestOffer {
	var best *BestOffer
	for _, sellerID := range arrival {
		o, ok := offers[sellerID]
		if !ok {
			continue
		}
		if best == nil || o.Price < best.Price {
			best = &BestOffer{
				SellerID:   o.SellerID,
				SellerName: o.SellerName,
				Price:      o.Price,
			}
		}
	}
	return best
}

// sameBest reports whether two resolutions name the same (seller, price)
// pair. Used to suppress duplicate best-offer notifications.
func sameBest(a, b *BestOffer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SellerID == b.SellerID && a.Price == b.Price
}
