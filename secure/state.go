package secure

// State is the protection state of a Region.
type State int

// Region states, in the order construction applies them.
const (
	// Unlocked means no protection has been applied.
	Unlocked State = iota
	// Locked means the pages are locked into memory and hold plaintext.
	Locked
	// Protected means the pages are locked and marked no-access but hold no ciphertext.
	Protected
	// EncryptedAtRest means the pages are locked, marked no-access and hold ciphertext.
	EncryptedAtRest
	// Destroyed means the region has been wiped and its memory released.
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	case Protected:
		return "protected"
	case EncryptedAtRest:
		return "encrypted-at-rest"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
