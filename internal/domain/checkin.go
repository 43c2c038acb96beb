package domain

import "time"

type CheckInStatus string

const (
	CheckInStatusSuccess          CheckInStatus = "SUCCESS"
	CheckInStatusAlreadyCheckedIn CheckInStatus = "ALREADY_CHECKED_IN"
	CheckInStatusWrongEvent       CheckInStatus = "WRONG_EVENT"
)

type CheckInRequest struct {
	EventID int64  `json:"eventId"`
	QRCode  string `json:"qrCode"`
}

type CheckInResponse struct {
	Status        CheckInStatus  `json:"status"`
	Message       string         `json:"message"`
	TicketDetails *TicketDetails `json:"ticketDetails,omitempty"`
}

type TicketDetails struct {
	UserName    string `json:"userName"`
	TicketType  string `json:"ticketType"`
	CheckInTime string `json:"checkInTime"`
}

type Event struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"startsAt"`
}
