package domain

type ReservationStatus string

const (
	ReservationStatusPending    ReservationStatus = "pending"
	ReservationStatusConfirmed  ReservationStatus = "confirmed"
	ReservationStatusProcessing ReservationStatus = "processing"
	ReservationStatusCompleted  ReservationStatus = "completed"
	ReservationStatusCancelled  ReservationStatus = "cancelled"
)

var transitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending: {
		ReservationStatusConfirmed,
		ReservationStatusProcessing,
		ReservationStatusCancelled,
	},
	ReservationStatusConfirmed: {
		ReservationStatusProcessing,
		ReservationStatusCompleted,
		ReservationStatusCancelled,
	},
	// processing and confirmed are interchangeable intermediate states
	ReservationStatusProcessing: {
		ReservationStatusConfirmed,
		ReservationStatusCompleted,
		ReservationStatusCancelled,
	},
}

// ParseReservationStatus returns false for anything outside the known set.
func ParseReservationStatus(s string) (ReservationStatus, bool) {
	status := ReservationStatus(s)
	switch status {
	case ReservationStatusPending,
		ReservationStatusConfirmed,
		ReservationStatusProcessing,
		ReservationStatusCompleted,
		ReservationStatusCancelled:
		return status, true
	}
	return "", false
}

func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCompleted || s == ReservationStatusCancelled
}

// Cancellable reports whether the owning customer may still cancel.
func (s ReservationStatus) Cancellable() bool {
	return s == ReservationStatusPending || s == ReservationStatusConfirmed || s == ReservationStatusProcessing
}

// String representation (for logging)
func (s ReservationStatus) String() string {
	return string(s)
}

func CanTransitionTo(from, to ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
