package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Domenick1991/checkin/internal/domain"
)

const checkInPath = "/api/v1/check-in"

// CheckIn submits a scanned code for eventID. Business rejections such as
// ALREADY_CHECKED_IN come back as a response even when the API answers with a
// 4xx status; only replies without a status field are errors.
func (c *Client) CheckIn(ctx context.Context, eventID int64, qrCode string) (*domain.CheckInResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, checkInPath, domain.CheckInRequest{
		EventID: eventID,
		QRCode:  qrCode,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check-in request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read check-in response: %w", err)
	}

	var reply domain.CheckInResponse
	decodeErr := json.Unmarshal(body, &reply)
	if decodeErr == nil && reply.Status != "" {
		return &reply, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode check-in response: %w", decodeErr)
	}
	return nil, fmt.Errorf("decode check-in response: missing status")
}
