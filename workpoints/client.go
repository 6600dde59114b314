package workpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SyncRequest is the body of POST /api/users/work-points/sync.
type SyncRequest struct {
	Date              string `json:"date"`
	WorkPoints        int64  `json:"workPoints"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

// SyncResult is the outcome of one sync attempt. Failures are values, not errors.
type SyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Syncer pushes a daily tally to the server.
type Syncer interface {
	Sync(ctx context.Context, req SyncRequest) SyncResult
}

// CalendarDay is one day of the work-points calendar.
type CalendarDay struct {
	Date             string `json:"date"`
	WorkPointsEarned int64  `json:"workPointsEarned"`
	PenaltyAmount    int64  `json:"penaltyAmount"`
	StreakMaintained bool   `json:"streakMaintained"`
	HasData          bool   `json:"hasData"`
	IsToday          bool   `json:"isToday"`
	IsFuture         bool   `json:"isFuture"`
}

// CalendarData is the response of the calendar query.
type CalendarData struct {
	Month                 string        `json:"month"`
	Timezone              string        `json:"timezone"`
	Days                  []CalendarDay `json:"days"`
	UserFirstActivityDate *string       `json:"userFirstActivityDate"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPClient talks to the vocabnest API with a bearer token.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewHTTPClient returns a client with a bounded request timeout.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Sync implements Syncer.
func (c *HTTPClient) Sync(ctx context.Context, req SyncRequest) SyncResult {
	var res SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/users/work-points/sync", req, &res); err != nil {
		return SyncResult{Success: false, Message: err.Error()}
	}
	return res
}

// Calendar fetches the month (YYYY-MM) classified in the given IANA timezone.
func (c *HTTPClient) Calendar(ctx context.Context, month, tz string) (CalendarData, error) {
	path := "/api/users/work-points/calendar/" + url.PathEscape(month)
	if tz != "" {
		path += "?tz=" + url.QueryEscape(tz)
	}
	var data CalendarData
	err := c.do(ctx, http.MethodGet, path, nil, &data)
	return data, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: undecodable response: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || env.Code != 0 {
		// sync failures still carry a result body
		if len(env.Data) > 0 && out != nil {
			_ = json.Unmarshal(env.Data, out)
		}
		return fmt.Errorf("%s %s: status %d code %d: %s", method, path, resp.StatusCode, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
