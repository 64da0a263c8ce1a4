package extract

const (
	highTrustConfidence   = 0.85
	mediumTrustConfidence = 0.65
)

// ScoreTrust derives an item's trust level. The checks run in order:
// no evidence quote is always low; evidence with confidence >= 0.85 and a
// linked owner or target is high; evidence with confidence >= 0.65 is medium;
// everything else is low.
func ScoreTrust(item NormalizedItem, ownerLinked, targetLinked bool) TrustLevel {
	if !item.HasEvidence() {
		return TrustLow
	}
	if item.Confidence >= highTrustConfidence && (ownerLinked || targetLinked) {
		return TrustHigh
	}
	if item.Confidence >= mediumTrustConfidence {
		return TrustMedium
	}
	return TrustLow
}
