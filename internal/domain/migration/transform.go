package migration

// Transform expands one legacy blob-index row into its destination rows, one
// per pack position, each carrying the source key unchanged. A row with no
// positions expands to nothing. Transform is pure; it never fails.
func Transform(rec SourceRecord) []DestinationRecord {
	if len(rec.Positions) == 0 {
		return nil
	}

	out := make([]DestinationRecord, 0, len(rec.Positions))
	for _, pos := range rec.Positions {
		out = append(out, DestinationRecord{
			Key:     rec.Key,
			Locator: pos.Locator,
			Offset:  pos.Offset,
			Length:  pos.Length,
		})
	}
	return out
}
