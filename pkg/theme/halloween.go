package theme

// Seasonal palette. Sentiment colors stay at their defaults; only the
// feature roles change.
func init() {
	MustRegister(&Theme{
		Name:       "halloween",
		NoteList:   0xEB6123, // pumpkin
		NoteSearch: 0x8E44AD, // purple
		Roster:     0xEB6123,
		Avatar:     0xF28B82,
	})
}
