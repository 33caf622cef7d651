package domain

import "time"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

// TargetKind tells a client what a notification points at.
type TargetKind string

const (
	TargetReservation TargetKind = "reservation"
	TargetProduct     TargetKind = "product"
	TargetUser        TargetKind = "user"
	TargetGeneric     TargetKind = "generic"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetReservation, TargetProduct, TargetUser, TargetGeneric:
		return true
	}
	return false
}

type Target struct {
	Kind      TargetKind `json:"kind" bson:"kind"`
	RelatedID string     `json:"related_id,omitempty" bson:"related_id,omitempty"`
}

type Notification struct {
	ID          string           `json:"id" bson:"_id"`
	RecipientID string           `json:"user_profile_id" bson:"recipient_id"`
	Title       string           `json:"title" bson:"title"`
	Message     string           `json:"message" bson:"message"`
	Type        NotificationType `json:"type" bson:"type"`
	Target      Target           `json:"target" bson:"target"`
	IsRead      bool             `json:"is_read" bson:"is_read"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
}

// StatusNotificationType picks the severity shown to the owner for a status change.
func StatusNotificationType(status ReservationStatus) NotificationType {
	switch status {
	case ReservationStatusConfirmed, ReservationStatusCompleted:
		return NotificationSuccess
	case ReservationStatusCancelled:
		return NotificationWarning
	default:
		return NotificationInfo
	}
}
