package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
)

// Event statuses
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// Participant roles
const (
	RoleOrganizer = "ORGANIZER"
	RoleVolunteer = "VOLUNTEER"
	RoleAttendee  = "ATTENDEE"
)

// ParticipantRoles are ordered by the points they award.
var ParticipantRoles = []string{RoleOrganizer, RoleVolunteer, RoleAttendee}

type (
	University struct {
		ID   int64  `json:"universityId"`
		Name string `json:"name"`
	}

	Event struct {
		ID              int64         `json:"eventId"`
		Title           string        `json:"title"`
		Description     string        `json:"description"`
		Location        string        `json:"location"`
		StartDate       Time          `json:"startDate"`
		EndDate         Time          `json:"endDate"`
		Type            string        `json:"type"`
		Status          string        `json:"status"`
		MaxOrganizers   *int          `json:"maxOrganizers"`
		MaxVolunteers   *int          `json:"maxVolunteers"`
		MaxAttendees    *int          `json:"maxAttendees"`
		OrganizerPoints int           `json:"organizerPoints"`
		VolunteerPoints int           `json:"volunteerPoints"`
		AttendeePoints  int           `json:"attendeePoints"`
		University      *University   `json:"university"`
		Creator         *session.User `json:"creator"`
		CreatedAt       Time          `json:"createdAt"`
		ReportCount     int64         `json:"reportCount"`
	}

	// EventInput is the body of an event creation or edit.
	EventInput struct {
		Title               string `json:"title" validate:"required,min=3,max=255"`
		Description         string `json:"description" validate:"required"`
		Location            string `json:"location" validate:"required"`
		StartDate           Time   `json:"startDate"`
		EndDate             Time   `json:"endDate"`
		Type                string `json:"type" validate:"required"`
		MaxOrganizers       *int   `json:"maxOrganizers,omitempty" validate:"omitempty,min=1"`
		MaxVolunteers       *int   `json:"maxVolunteers,omitempty" validate:"omitempty,min=1"`
		MaxAttendees        *int   `json:"maxAttendees,omitempty" validate:"omitempty,min=1"`
		CreatorParticipates bool   `json:"creatorParticipates"`
		CreatorRole         string `json:"creatorRole,omitempty" validate:"omitempty,oneof=ORGANIZER VOLUNTEER ATTENDEE"`
	}

	EventFilter struct {
		UniversityID *int64
		Status       string
		Type         string
	}

	// Participant is a user's seat at an event.
	Participant struct {
		ID            int64        `json:"participantId"`
		Event         *Event       `json:"event,omitempty"`
		User          session.User `json:"user"`
		Role          string       `json:"role"`
		PointsAwarded int          `json:"pointsAwarded"`
		JoinedAt      Time         `json:"joinedAt"`
	}

	// ParticipationRequest asks the organizers for a seat that needs approval.
	ParticipationRequest struct {
		ID              int64  `json:"requestId"`
		EventID         int64  `json:"eventId"`
		EventTitle      string `json:"eventTitle"`
		UserID          int64  `json:"userId"`
		UserName        string `json:"userName"`
		UserEmail       string `json:"userEmail"`
		RequestedRole   string `json:"requestedRole"`
		Status          string `json:"status"`
		RequestedAt     Time   `json:"requestedAt"`
		RespondedAt     Time   `json:"respondedAt"`
		RespondedByName string `json:"respondedByName,omitempty"`
	}
)

func (in *EventInput) Validate(validate *validator.Validate, translator ut.Translator) error {
	in.Title = core.CleanString(in.Title)
	in.Location = core.CleanString(in.Location)
	in.Type = strings.ToUpper(core.CleanString(in.Type))
	in.CreatorRole = strings.ToUpper(core.CleanString(in.CreatorRole))
	if err := core.TranslateErrors(validate.Struct(in), translator); err != nil {
		return err
	}
	switch {
	case in.CreatorParticipates && in.CreatorRole == "":
		return core.NewValidationError(nil, core.FieldError{Field: "creatorRole", Error: "creatorRole is required to take part"})
	case in.StartDate.IsZero():
		return core.NewValidationError(nil, core.FieldError{Field: "startDate", Error: "startDate is a required field"})
	case !in.EndDate.After(in.StartDate.Time):
		return core.NewValidationError(nil, core.FieldError{Field: "endDate", Error: "endDate must be after startDate"})
	}
	return nil
}

// NormalizeParticipantRole upper-cases role and reports whether it is known.
func NormalizeParticipantRole(role string) (string, bool) {
	role = strings.ToUpper(strings.TrimSpace(role))
	for _, r := range ParticipantRoles {
		if r == role {
			return role, true
		}
	}
	return role, false
}

func eventPath(id int64, parts ...string) string {
	return strings.Join(append([]string{"/events", strconv.FormatInt(id, 10)}, parts...), "/")
}

func (c *Client) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	vals := url.Values{}
	if filter.UniversityID != nil {
		vals.Set("universityId", strconv.FormatInt(*filter.UniversityID, 10))
	}
	if filter.Status != "" {
		vals.Set("status", strings.ToUpper(filter.Status))
	}
	if filter.Type != "" {
		vals.Set("type", filter.Type)
	}
	var evts []Event
	err := c.get(ctx, "/events", vals, &evts)
	return evts, err
}

func (c *Client) Event(ctx context.Context, id int64) (Event, error) {
	var evt Event
	err := c.get(ctx, eventPath(id), nil, &evt)
	return evt, err
}

// CreateEvent submits a new event; it stays PENDING until a supervisor approves it.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	var evt Event
	err := c.post(ctx, "/events", in, &evt)
	return evt, err
}

func (c *Client) UpdateEvent(ctx context.Context, id int64, in EventInput) (Event, error) {
	var evt Event
	err := c.put(ctx, eventPath(id), in, &evt)
	return evt, err
}

func (c *Client) DeleteEvent(ctx context.Context, id int64) (string, error) {
	var msg string
	err := c.del(ctx, eventPath(id), &msg)
	return msg, err
}

// JoinEvent takes a seat as role and earns its points.
func (c *Client) JoinEvent(ctx context.Context, id int64, role string) (string, error) {
	var msg string
	err := c.post(ctx, eventPath(id, "join"), map[string]string{"role": role}, &msg)
	return msg, err
}

// LeaveEvent gives the seat back; the server deducts twice the points earned.
func (c *Client) LeaveEvent(ctx context.Context, id int64) (string, error) {
	var msg string
	err := c.post(ctx, eventPath(id, "leave"), nil, &msg)
	return msg, err
}

func (c *Client) ApproveEvent(ctx context.Context, id int64) (string, error) {
	var msg string
	err := c.put(ctx, eventPath(id, "approve"), nil, &msg)
	return msg, err
}

func (c *Client) RejectEvent(ctx context.Context, id int64, reason string) (string, error) {
	var msg string
	err := c.put(ctx, eventPath(id, "reject"), map[string]string{"reason": reason}, &msg)
	return msg, err
}

func (c *Client) CancelEvent(ctx context.Context, id int64, reason string) (string, error) {
	var msg string
	err := c.put(ctx, eventPath(id, "cancel"), map[string]string{"reason": reason}, &msg)
	return msg, err
}

// MyEvents lists the events created by the signed-in user.
func (c *Client) MyEvents(ctx context.Context) ([]Event, error) {
	var evts []Event
	err := c.get(ctx, "/events/my-events", nil, &evts)
	return evts, err
}

func (c *Client) MyParticipations(ctx context.Context) ([]Participant, error) {
	var parts []Participant
	err := c.get(ctx, "/events/my-participations", nil, &parts)
	return parts, err
}

func (c *Client) Participants(ctx context.Context, eventID int64) ([]Participant, error) {
	var parts []Participant
	err := c.get(ctx, eventPath(eventID, "participants"), nil, &parts)
	return parts, err
}

func requestPath(parts ...string) string {
	return strings.Join(append([]string{"/event-participation-requests"}, parts...), "/")
}

func (c *Client) RequestParticipation(ctx context.Context, eventID int64, role string) (ParticipationRequest, error) {
	var req ParticipationRequest
	err := c.post(ctx, requestPath("events", strconv.FormatInt(eventID, 10)), map[string]string{"requestedRole": role}, &req)
	return req, err
}

func (c *Client) ParticipationRequests(ctx context.Context, eventID int64) ([]ParticipationRequest, error) {
	var reqs []ParticipationRequest
	err := c.get(ctx, requestPath("events", strconv.FormatInt(eventID, 10)), nil, &reqs)
	return reqs, err
}

func (c *Client) MyParticipationRequests(ctx context.Context) ([]ParticipationRequest, error) {
	var reqs []ParticipationRequest
	err := c.get(ctx, requestPath("my-requests"), nil, &reqs)
	return reqs, err
}

func (c *Client) ApproveParticipation(ctx context.Context, requestID int64) error {
	return c.post(ctx, requestPath(strconv.FormatInt(requestID, 10), "approve"), nil, nil)
}

func (c *Client) RejectParticipation(ctx context.Context, requestID int64) error {
	return c.post(ctx, requestPath(strconv.FormatInt(requestID, 10), "reject"), nil, nil)
}
