package domain

// Rank orders audience levels for the minimum-rank gate check.
type Rank int

const (
	RankViewer Rank = iota
	RankSubscriber
	RankVip
	RankModerator
	RankOwner
)

// PermissionRecord is a user's tts authorization as assigned by the
// configuration surface.
type PermissionRecord struct {
	UserID  string
	Allowed bool
	Rank    Rank
}
