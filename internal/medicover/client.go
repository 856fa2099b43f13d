// Package medicover is a minimal, stateless client for the Medicover
// online24 appointment gateway. The bearer token is passed per call, never
// stored; non-2xx responses surface as apierr taxonomy errors so the layers
// above can decide retry vs. cooldown vs. relogin.
package medicover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/domain/appointment"
)

const (
	defaultBaseURL       = "https://api-gateway-online24.medicover.pl"
	slotsEndpoint        = "/appointments/api/search-appointments/slots"
	bookingEndpoint      = "/appointments/api/search-appointments/book-appointment"
	filtersEndpoint      = "/service-selector-configurator/api/search-appointments/filters"
	defaultRegionID      = 204 // Warszawa
	defaultClientTimeout = 30 * time.Second
)

// SearchParams is the server-side query: resource filters plus a date range.
type SearchParams struct {
	RegionIDs          []int64 `json:"region_ids,omitempty"`
	SpecialtyIDs       []int64 `json:"specialty_ids,omitempty"`
	ClinicIDs          []int64 `json:"clinic_ids,omitempty"`
	DoctorIDs          []int64 `json:"doctor_ids,omitempty"`
	StartTime          string  `json:"start_time,omitempty"` // YYYY-MM-DD
	EndTime            string  `json:"end_time,omitempty"`   // YYYY-MM-DD
	Page               int     `json:"page,omitempty"`
	PageSize           int     `json:"page_size,omitempty"`
	DisableOverbooking bool    `json:"disable_overbooking,omitempty"`
}

// BookingResult reports a booking attempt that produced an upstream answer
// (as opposed to a taxonomy error). A refused slot is not an error: the
// executor moves on to the next candidate.
type BookingResult struct {
	Success       bool   `json:"success"`
	AppointmentID int64  `json:"appointmentId,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// API is the surface the executor consumes; fakes implement it in tests.
type API interface {
	Search(ctx context.Context, params SearchParams, token string) ([]appointment.Appointment, error)
	Book(ctx context.Context, bookingString, token string) (BookingResult, error)
	Filters(ctx context.Context, regionID int64, token string) (json.RawMessage, error)
}

type Client struct {
	hc      *http.Client
	baseURL string
}

func New() *Client {
	return NewWithBaseURL(defaultBaseURL)
}

func NewWithBaseURL(baseURL string) *Client {
	return &Client{
		hc:      &http.Client{Timeout: defaultClientTimeout},
		baseURL: baseURL,
	}
}

type slotsResponse struct {
	Items []appointment.Appointment `json:"items"`
}

func (c *Client) Search(ctx context.Context, params SearchParams, token string) ([]appointment.Appointment, error) {
	const op = "search"
	if token == "" {
		return nil, apierr.New(apierr.KindAuthRequired, op, "bearer token required")
	}

	q := make(map[string][]string)
	addIDs(q, "RegionIds", params.RegionIDs)
	addIDs(q, "SpecialtyIds", params.SpecialtyIDs)
	addIDs(q, "ClinicIds", params.ClinicIDs)
	addIDs(q, "DoctorIds", params.DoctorIDs)
	if len(params.RegionIDs) == 0 {
		q["RegionIds"] = []string{strconv.Itoa(defaultRegionID)}
	}
	start := params.StartTime
	if start == "" {
		start = time.Now().Format("2006-01-02")
	}
	q["StartTime"] = []string{start}
	if params.EndTime != "" {
		q["EndTime"] = []string{params.EndTime}
	}
	if params.Page > 0 {
		q["Page"] = []string{strconv.Itoa(params.Page)}
	}
	if params.PageSize > 0 {
		q["PageSize"] = []string{strconv.Itoa(params.PageSize)}
	}
	if params.DisableOverbooking {
		q["isOverbookingSearchDisabled"] = []string{"true"}
	}

	status, body, err := c.do(ctx, http.MethodGet, slotsEndpoint, token, q, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, op, err)
	}
	if status != http.StatusOK {
		return nil, apierr.FromStatus(op, status)
	}

	var res slotsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, apierr.Wrap(apierr.KindServerError, op, fmt.Errorf("decode slots: %w", err))
	}
	return res.Items, nil
}

type bookingRequest struct {
	BookingString string            `json:"bookingString"`
	Metadata      map[string]string `json:"metadata"`
}

func (c *Client) Book(ctx context.Context, bookingString, token string) (BookingResult, error) {
	const op = "book"
	if token == "" {
		return BookingResult{}, apierr.New(apierr.KindAuthRequired, op, "bearer token required")
	}
	if bookingString == "" {
		return BookingResult{}, apierr.New(apierr.KindUnknown, op, "booking string is required")
	}

	payload, err := json.Marshal(bookingRequest{
		BookingString: bookingString,
		Metadata:      map[string]string{"appointmentSource": "Direct"},
	})
	if err != nil {
		return BookingResult{}, err
	}

	status, body, err := c.do(ctx, http.MethodPost, bookingEndpoint, token, nil, payload)
	if err != nil {
		return BookingResult{}, apierr.Wrap(apierr.KindTransient, op, err)
	}
	switch status {
	case http.StatusOK:
		var res struct {
			AppointmentID int64 `json:"appointmentId"`
		}
		_ = json.Unmarshal(body, &res)
		return BookingResult{Success: true, AppointmentID: res.AppointmentID, Message: "booked"}, nil
	case http.StatusBadRequest:
		// slot disappeared between search and book
		return BookingResult{Success: false, Code: "slot_gone", Message: "slot no longer available"}, nil
	case http.StatusConflict:
		// upstream already holds a reservation for this specialty
		return BookingResult{Success: false, Code: "conflict", Message: "a reservation already exists for this specialty"}, nil
	default:
		return BookingResult{}, apierr.FromStatus(op, status)
	}
}

// Filters fetches the picker dictionary (specialties, clinics, doctors) for a
// region. Returned raw: this core does not cache or interpret it.
func (c *Client) Filters(ctx context.Context, regionID int64, token string) (json.RawMessage, error) {
	const op = "filters"
	if token == "" {
		return nil, apierr.New(apierr.KindAuthRequired, op, "bearer token required")
	}
	q := make(map[string][]string)
	if regionID > 0 {
		q["RegionId"] = []string{strconv.FormatInt(regionID, 10)}
	}
	status, body, err := c.do(ctx, http.MethodGet, filtersEndpoint, token, q, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, op, err)
	}
	if status != http.StatusOK {
		return nil, apierr.FromStatus(op, status)
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, query map[string][]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}

	// Header block taken from a HAR capture of the web client.
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:140.0) Gecko/20100101 Firefox/140.0")
	req.Header.Set("Accept-Language", "pl,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Origin", "https://online24.medicover.pl")
	req.Header.Set("Referer", "https://online24.medicover.pl/")
	req.Header.Set("Authorization", "Bearer "+token)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	if query != nil {
		q := req.URL.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func addIDs(q map[string][]string, key string, ids []int64) {
	for _, id := range ids {
		q[key] = append(q[key], strconv.FormatInt(id, 10))
	}
}
