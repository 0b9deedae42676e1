// Package google implements the calendar provider boundary against the
// Google Calendar v3 REST API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"medbook/backend/internal/calendar"
)

const (
	defaultAPIBase  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

type Config struct {
	ClientID     string
	ClientSecret string

	// APIBase and TokenURL exist for tests; zero values use the real
	// Google endpoints.
	APIBase  string
	TokenURL string

	HTTPClient *http.Client
}

type Client struct {
	clientID     string
	clientSecret string
	apiBase      string
	tokenURL     string
	http         *http.Client
}

func New(cfg Config) *Client {
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiBase:      apiBase,
		tokenURL:     tokenURL,
		http:         httpClient,
	}
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calendar.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: token endpoint returned %d", calendar.ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: token endpoint returned %d", calendar.ErrAuthExpired, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", calendar.ErrAuthExpired)
	}
	return &oauth2.Token{
		AccessToken: body.AccessToken,
		Expiry:      time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type eventPayload struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Attendees   []attendee `json:"attendees,omitempty"`
	Reminders   *reminders `json:"reminders,omitempty"`
	Status      string     `json:"status,omitempty"`
}

func toPayload(ev calendar.Event) eventPayload {
	p := eventPayload{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Timezone},
		End:         eventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.Timezone},
	}
	for _, email := range ev.Attendees {
		p.Attendees = append(p.Attendees, attendee{Email: email})
	}
	if ev.ReminderMinutes > 0 {
		p.Reminders = &reminders{
			Overrides: []reminderOverride{{Method: "popup", Minutes: ev.ReminderMinutes}},
		}
	}
	return p
}

func fromPayload(p eventPayload) calendar.Event {
	parse := func(et eventTime) time.Time {
		t, err := time.Parse(time.RFC3339, et.DateTime)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	ev := calendar.Event{
		ID:          p.ID,
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       parse(p.Start),
		End:         parse(p.End),
		Timezone:    p.Start.TimeZone,
	}
	for _, a := range p.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev
}

func (c *Client) CreateEvent(ctx context.Context, token *oauth2.Token, calendarID string, ev calendar.Event) (string, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.apiBase, url.PathEscape(calendarID))

	var created eventPayload
	if err := c.doJSON(ctx, token, http.MethodPost, endpoint, toPayload(ev), &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create event: response missing id")
	}
	return created.ID, nil
}

func (c *Client) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev calendar.Event) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.apiBase, url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.doJSON(ctx, token, http.MethodPut, endpoint, toPayload(ev), nil)
}

func (c *Client) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.apiBase, url.PathEscape(calendarID), url.PathEscape(eventID))
	err := c.doJSON(ctx, token, http.MethodDelete, endpoint, nil, nil)
	// An event deleted out-of-band is the outcome we wanted.
	if errors.Is(err, errEventGone) {
		return nil
	}
	return err
}

func (c *Client) ListEvents(ctx context.Context, token *oauth2.Token, calendarID string, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	q := url.Values{
		"timeMin":      {timeMin.Format(time.RFC3339)},
		"timeMax":      {timeMax.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.apiBase, url.PathEscape(calendarID), q.Encode())

	var body struct {
		Items []eventPayload `json:"items"`
	}
	if err := c.doJSON(ctx, token, http.MethodGet, endpoint, nil, &body); err != nil {
		return nil, err
	}

	events := make([]calendar.Event, 0, len(body.Items))
	for _, item := range body.Items {
		if item.Status == "cancelled" {
			continue
		}
		events = append(events, fromPayload(item))
	}
	return events, nil
}

func (c *Client) doJSON(ctx context.Context, token *oauth2.Token, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if token != nil {
		token.SetAuthHeader(req)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", calendar.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errEventGone = errors.New("event gone")

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", calendar.ErrAuthExpired, code)
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", errEventGone, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", calendar.ErrProviderUnavailable, code)
	default:
		return fmt.Errorf("calendar api returned %d", code)
	}
}

var _ calendar.ProviderClient = (*Client)(nil)
