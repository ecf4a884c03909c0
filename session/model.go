package session

// Session is the stored state of one authenticated session. Handle and
// FamilyID are opaque and stable across refreshes; RefreshHash and
// Generation advance on every rotation.
type Session struct {
	Handle   string
	UserID   string
	FamilyID string

	Payload        map[string]any
	PayloadVersion uint32

	RefreshHash     [32]byte
	PrevRefreshHash [32]byte
	Generation      uint64
	// RotatedAt is the unix time of the last rotation; zero until the
	// first refresh. The manager uses it to tell a rotation-race loser
	// from a replayed token.
	RotatedAt int64

	CreatedAt int64
	ExpiresAt int64
}
