package versioning

// SelectDefault picks the version a caller sees when none is chosen explicitly:
// the ACTIVE one, else a DRAFT, else the most recently approved, else the first entry.
// Ties keep input order. It returns nil for an empty history.
func SelectDefault(history []Version) *Version {
	if len(history) == 0 {
		return nil
	}

	for _, status := range []Status{StatusActive, StatusDraft} {
		for i := range history {
			if history[i].Status == status {
				return &history[i]
			}
		}
	}

	var latest *Version
	for i := range history {
		v := &history[i]
		if v.Status != StatusApproved {
			continue
		}
		if latest == nil || approvedAfter(v, latest) {
			latest = v
		}
	}
	if latest != nil {
		return latest
	}
	return &history[0]
}

// approvedAfter orders approved versions by approval time, falling back to creation
// time when a stamp is missing.
func approvedAfter(a, b *Version) bool {
	at, bt := a.CreatedDate, b.CreatedDate
	if a.ApprovedDate != nil {
		at = *a.ApprovedDate
	}
	if b.ApprovedDate != nil {
		bt = *b.ApprovedDate
	}
	return at.After(bt)
}
