package domain

type ScanStatus string

const (
	ScanStatusIdle        ScanStatus = "idle"
	ScanStatusScanning    ScanStatus = "scanning"
	ScanStatusSuccess     ScanStatus = "success"
	ScanStatusError       ScanStatus = "error"
	ScanStatusAlreadyUsed ScanStatus = "already_used"
)

// ScanResult is the status object rendered by the station UI. It is replaced
// as a whole on every transition.
type ScanResult struct {
	Status     ScanStatus  `json:"status"`
	Message    string      `json:"message"`
	TicketInfo *TicketInfo `json:"ticketInfo,omitempty"`
}

type TicketInfo struct {
	HolderName       string `json:"holderName"`
	TicketType       string `json:"ticketType"`
	CheckInTimestamp string `json:"checkInTimestamp"`
}

type FacingMode string

const (
	FacingFront FacingMode = "front"
	FacingBack  FacingMode = "back"
)

func (f FacingMode) Opposite() FacingMode {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

func (f FacingMode) Valid() bool {
	return f == FacingFront || f == FacingBack
}
