package model

import "time"

// DeviceContact is an entry of a user's device address book.
type DeviceContact struct {
	Id     int64  `json:"id"    db:"id"`
	UserId string `json:"-"     db:"user_id"`
	Name   string `json:"name"  db:"name"`
	Phone  string `json:"phone" db:"phone"`
}

// Location is a position fix in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Sample is one reading of the 3-axis accelerometer in m/s².
// The timestamp is optional; a zero value means "now".
type Sample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Permission names a device permission the SOS workflow may depend on.
type Permission string

const (
	FineLocation       Permission = "fine_location"
	CoarseLocation     Permission = "coarse_location"
	BackgroundLocation Permission = "background_location"
	SendSMS            Permission = "send_sms"
	ReadContacts       Permission = "read_contacts"
)

// AllPermissions lists every permission the app asks the user for.
var AllPermissions = []Permission{FineLocation, CoarseLocation, SendSMS, ReadContacts, BackgroundLocation}

// Outcome is the result of one text message send attempt.
type Outcome struct {
	Phone string `json:"phone"`
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// Report summarizes one SOS dispatch.
type Report struct {
	FlowId     string    `json:"flowId,omitempty"`
	Message    string    `json:"message,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
	NoContacts bool      `json:"noContacts,omitempty"`
}

// Failed returns the number of recipients that could not be reached.
func (r Report) Failed() int {
	failed := 0
	for _, o := range r.Outcomes {
		if !o.Sent {
			failed++
		}
	}
	return failed
}

// NoticeKind classifies user-visible notices.
type NoticeKind string

const (
	NoticeInfo              NoticeKind = "info"
	NoticeError             NoticeKind = "error"
	NoticeForeground        NoticeKind = "foreground"
	NoticePermissionRequest NoticeKind = "permission_request"
)

// Notice is a short user-visible message, the server side equivalent of a toast.
type Notice struct {
	Kind        NoticeKind   `json:"kind"`
	Title       string       `json:"title,omitempty"`
	Message     string       `json:"message"`
	Permissions []Permission `json:"permissions,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}
