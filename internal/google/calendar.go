package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const isoDate = "2006-01-02"

// CalendarService talks to a single Google calendar through a service
// account. All calls pass through a shared rate limiter so a large drain
// does not trip the per-user quota.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	limiter    *rate.Limiter
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string) (*CalendarService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client := config.Client(ctx)

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %v", err)
	}

	return &CalendarService{
		service:    srv,
		calendarID: calendarID,
		// Calendar API allows ~10 qps per user; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}, nil
}

// TestConnection verifies the service account can see the calendar.
func (s *CalendarService) TestConnection(ctx context.Context) error {
	if _, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// ListEvents returns the calendar entries in [start, end) as flat events,
// recurring series expanded.
func (s *CalendarService) ListEvents(ctx context.Context, start, end time.Time) ([]models.RemoteEvent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out []models.RemoteEvent
	pageToken := ""
	for {
		call := s.service.Events.List(s.calendarID).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list events: %v", err)
		}

		for _, item := range resp.Items {
			out = append(out, remoteEventFromAPI(item))
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return out, nil
}

// CreateEvent inserts the event as an all-day entry and returns the id the
// calendar assigned.
func (s *CalendarService) CreateEvent(ctx context.Context, ev *models.LocalEvent) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	created, err := s.service.Events.Insert(s.calendarID, eventToAPI(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %v", err)
	}
	return created.Id, nil
}

// DeleteEvent removes the remote event. A 404 or 410 means someone already
// deleted it, which is the outcome the caller wanted.
func (s *CalendarService) DeleteEvent(ctx context.Context, remoteID string) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}

	err := s.service.Events.Delete(s.calendarID, remoteID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			return false, nil
		}
		return false, fmt.Errorf("delete event: %v", err)
	}
	return true, nil
}

func eventToAPI(ev *models.LocalEvent) *calendar.Event {
	summary := ev.Title
	if summary == "" && ev.ShiftType != "" {
		summary = ev.ShiftType
	}

	apiEvent := &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{Date: ev.Date},
		End:     &calendar.EventDateTime{Date: nextDay(ev.Date)},
	}
	if ev.Type != "" {
		apiEvent.Description = string(ev.Type)
	}
	return apiEvent
}

func remoteEventFromAPI(item *calendar.Event) models.RemoteEvent {
	rev := models.RemoteEvent{
		ID:      item.Id,
		Summary: item.Summary,
		Status:  item.Status,
	}
	if item.Start != nil {
		rev.Start = parseEventTime(item.Start)
	}
	if item.End != nil {
		rev.End = parseEventTime(item.End)
	}
	return rev
}

func parseEventTime(edt *calendar.EventDateTime) time.Time {
	if edt.Date != "" {
		ts, _ := time.Parse(isoDate, edt.Date)
		return ts
	}
	ts, _ := time.Parse(time.RFC3339, edt.DateTime)
	return ts
}

// nextDay returns the exclusive end date for an all-day event.
func nextDay(date string) string {
	ts, err := time.Parse(isoDate, date)
	if err != nil {
		return date
	}
	return ts.AddDate(0, 0, 1).Format(isoDate)
}
