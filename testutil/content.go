package testutil

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Content statuses
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusReviewed  = "REVIEWED"
	StatusDismissed = "DISMISSED"
)

// localLayout mimics the zone-less timestamps of the real backend.
const localLayout = "2006-01-02T15:04:05"

var errForbidden = echo.NewHTTPError(http.StatusForbidden, "Access denied")

type (
	University struct {
		ID   int64  `json:"universityId"`
		Name string `json:"name"`
	}

	Event struct {
		ID              int64       `json:"eventId"`
		Title           string      `json:"title"`
		Description     string      `json:"description"`
		Location        string      `json:"location"`
		StartDate       string      `json:"startDate"`
		EndDate         string      `json:"endDate"`
		Type            string      `json:"type"`
		Status          string      `json:"status"`
		MaxOrganizers   *int        `json:"maxOrganizers"`
		MaxVolunteers   *int        `json:"maxVolunteers"`
		MaxAttendees    *int        `json:"maxAttendees"`
		OrganizerPoints int         `json:"organizerPoints"`
		VolunteerPoints int         `json:"volunteerPoints"`
		AttendeePoints  int         `json:"attendeePoints"`
		University      *University `json:"university"`
		Creator         User        `json:"creator"`
		CreatedAt       string      `json:"createdAt"`
		ReportCount     int64       `json:"reportCount"`
	}

	Participant struct {
		ID            int64  `json:"participantId"`
		Event         *Event `json:"event,omitempty"`
		User          User   `json:"user"`
		Role          string `json:"role"`
		PointsAwarded int    `json:"pointsAwarded"`
		JoinedAt      string `json:"joinedAt"`
	}

	ParticipationRequest struct {
		ID              int64  `json:"requestId"`
		EventID         int64  `json:"eventId"`
		EventTitle      string `json:"eventTitle"`
		UserID          int64  `json:"userId"`
		UserName        string `json:"userName"`
		UserEmail       string `json:"userEmail"`
		RequestedRole   string `json:"requestedRole"`
		Status          string `json:"status"`
		RequestedAt     string `json:"requestedAt"`
		RespondedAt     string `json:"respondedAt,omitempty"`
		RespondedByName string `json:"respondedByName,omitempty"`
	}

	Blog struct {
		ID          int64       `json:"blogId"`
		Title       string      `json:"title"`
		Content     string      `json:"content"`
		Category    string      `json:"category"`
		Status      string      `json:"status"`
		IsGlobal    bool        `json:"isGlobal"`
		University  *University `json:"university"`
		Author      User        `json:"author"`
		CreatedAt   string      `json:"createdAt"`
		UpdatedAt   string      `json:"updatedAt"`
		ReportCount int64       `json:"reportCount"`
	}

	Report struct {
		ID         int64  `json:"reportId"`
		Blog       *Blog  `json:"blog,omitempty"`
		Event      *Event `json:"event,omitempty"`
		ReportedBy User   `json:"reportedBy"`
		Reason     string `json:"reason"`
		Status     string `json:"status"`
		CreatedAt  string `json:"createdAt"`
	}

	eventInput struct {
		Title               string `json:"title"`
		Description         string `json:"description"`
		Location            string `json:"location"`
		StartDate           string `json:"startDate"`
		EndDate             string `json:"endDate"`
		Type                string `json:"type"`
		MaxOrganizers       *int   `json:"maxOrganizers"`
		MaxVolunteers       *int   `json:"maxVolunteers"`
		MaxAttendees        *int   `json:"maxAttendees"`
		CreatorParticipates bool   `json:"creatorParticipates"`
		CreatorRole         string `json:"creatorRole"`
	}

	blogInput struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Category string `json:"category"`
		IsGlobal bool   `json:"isGlobal"`
	}

	// content is the event, blog and report state of the backend.
	content struct {
		events    map[int64]*Event
		seats     map[int64][]*Participant // by event ID
		requests  []*ParticipationRequest
		blogs     map[int64]*Blog
		reports   map[string][]*Report // by kind
		nextID    int64
		reporters map[string]bool // kind/id/user
	}
)

func newContent() content {
	return content{
		events:    make(map[int64]*Event),
		seats:     make(map[int64][]*Participant),
		blogs:     make(map[int64]*Blog),
		reports:   make(map[string][]*Report),
		reporters: make(map[string]bool),
	}
}

func (b *Backend) contentRoutes(api *echo.Group, protected echo.MiddlewareFunc) {
	events := api.Group("/events", protected)
	events.GET("", b.listEvents)
	events.POST("", b.createEvent)
	events.GET("/my-events", b.myEvents)
	events.GET("/my-participations", b.myParticipations)
	events.GET("/:id", b.eventByID)
	events.PUT("/:id", b.updateEvent)
	events.DELETE("/:id", b.deleteEvent)
	events.POST("/:id/join", b.joinEvent)
	events.POST("/:id/leave", b.leaveEvent)
	events.PUT("/:id/:decision", b.moderateEvent)
	events.GET("/:id/participants", b.participants)

	requests := api.Group("/event-participation-requests", protected)
	requests.POST("/events/:id", b.submitRequest)
	requests.GET("/events/:id", b.eventRequests)
	requests.GET("/my-requests", b.myRequests)
	requests.POST("/:id/:decision", b.answerRequest)

	blogs := api.Group("/blogs", protected)
	blogs.GET("", b.listBlogs)
	blogs.POST("", b.createBlog)
	blogs.GET("/my-blogs", b.myBlogs)
	blogs.GET("/pending", b.pendingBlogs)
	blogs.GET("/:id", b.blogByID)
	blogs.PUT("/:id", b.updateBlog)
	blogs.DELETE("/:id", b.deleteBlog)
	blogs.PUT("/:id/:decision", b.moderateBlog)

	reports := api.Group("/reports", protected)
	reports.POST("/:kind/:id", b.report)
	reports.GET("/:kind", b.listReports)
	reports.PUT("/:kind/:id/:decision", b.reviewReport)
}

func now() string {
	return nowFunc().Format(localLayout)
}

func idParam(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, errNotFound
	}
	return id, nil
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func isModerator(usr User) bool {
	return usr.Role == RoleSupervisor || usr.Role == RoleAdmin
}

func universityOf(usr User) *University {
	if usr.UniversityID == nil {
		return nil
	}
	return &University{ID: *usr.UniversityID, Name: usr.UniversityName}
}

// AddEvent creates an event owned by creator.
func (b *Backend) AddEvent(creator User, title, status string) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &b.content
	c.nextID++
	start := nowFunc().AddDate(0, 0, 7)
	evt := &Event{
		ID:              c.nextID,
		Title:           title,
		Description:     title + " description",
		Location:        "Main hall",
		StartDate:       start.Format(localLayout),
		EndDate:         start.Add(3 * time.Hour).Format(localLayout),
		Type:            "WORKSHOP",
		Status:          status,
		OrganizerPoints: 50,
		VolunteerPoints: 20,
		AttendeePoints:  10,
		University:      universityOf(creator),
		Creator:         creator,
		CreatedAt:       now(),
	}
	c.events[evt.ID] = evt
	return *evt
}

// LimitSeats caps the seats of role at eventID.
func (b *Backend) LimitSeats(eventID int64, role string, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.content.events[eventID]
	if !ok {
		return
	}
	switch role {
	case "ORGANIZER":
		evt.MaxOrganizers = &max
	case "VOLUNTEER":
		evt.MaxVolunteers = &max
	case "ATTENDEE":
		evt.MaxAttendees = &max
	}
}

// AddBlog creates a post written by author.
func (b *Backend) AddBlog(author User, title, category, status string) Blog {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &b.content
	c.nextID++
	blog := &Blog{
		ID:         c.nextID,
		Title:      title,
		Content:    title + " content",
		Category:   category,
		Status:     status,
		University: universityOf(author),
		Author:     author,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	c.blogs[blog.ID] = blog
	return *blog
}

// Points returns the current points of userID.
func (b *Backend) Points(userID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[userID]; ok {
		return acc.usr.Points
	}
	return 0
}

func (b *Backend) addPointsLocked(acc *account, delta int) {
	acc.usr.Points += delta
	if acc.usr.Points < 0 {
		acc.usr.Points = 0
	}
	acc.usr.CurrentBadgeName = badgeFor(acc.usr.Points).Name
}

func (b *Backend) notifyLocked(acc *account, typ, message string) {
	b.nextNotifID++
	acc.notifs = append(acc.notifs, &Notification{ID: b.nextNotifID, Message: message, Type: typ, CreatedAt: nowFunc().UTC()})
}

func sortedEvents(m map[int64]*Event, keep func(*Event) bool) []Event {
	out := make([]Event, 0, len(m))
	for _, evt := range m {
		if keep(evt) {
			out = append(out, *evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedBlogs(m map[int64]*Blog, keep func(*Blog) bool) []Blog {
	out := make([]Blog, 0, len(m))
	for _, blog := range m {
		if keep(blog) {
			out = append(out, *blog)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) eventLocked(ctx echo.Context) (*Event, error) {
	id, err := idParam(ctx)
	if err != nil {
		return nil, err
	}
	evt, ok := b.content.events[id]
	if !ok {
		return nil, errNotFound
	}
	return evt, nil
}

func (b *Backend) blogLocked(ctx echo.Context) (*Blog, error) {
	id, err := idParam(ctx)
	if err != nil {
		return nil, err
	}
	blog, ok := b.content.blogs[id]
	if !ok {
		return nil, errNotFound
	}
	return blog, nil
}

// Events

func (b *Backend) listEvents(ctx echo.Context) error {
	status := ctx.QueryParam("status")
	typ := ctx.QueryParam("type")
	uniID, _ := strconv.ParseInt(ctx.QueryParam("universityId"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	return ctx.JSON(http.StatusOK, sortedEvents(b.content.events, func(evt *Event) bool {
		return (status == "" || evt.Status == status) &&
			(typ == "" || strings.EqualFold(evt.Type, typ)) &&
			(uniID == 0 || (evt.University != nil && evt.University.ID == uniID))
	}))
}

func (b *Backend) createEvent(ctx echo.Context) error {
	var in eventInput
	if err := ctx.Bind(&in); err != nil {
		return badRequest("malformed body")
	}
	if strings.TrimSpace(in.Title) == "" || in.StartDate == "" || in.EndDate == "" {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"title": "Title is required"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	c := &b.content
	c.nextID++
	evt := &Event{
		ID:              c.nextID,
		Title:           in.Title,
		Description:     in.Description,
		Location:        in.Location,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Type:            in.Type,
		Status:          StatusPending,
		MaxOrganizers:   in.MaxOrganizers,
		MaxVolunteers:   in.MaxVolunteers,
		MaxAttendees:    in.MaxAttendees,
		OrganizerPoints: 50,
		VolunteerPoints: 20,
		AttendeePoints:  10,
		University:      universityOf(acc.usr),
		Creator:         acc.usr,
		CreatedAt:       now(),
	}
	c.events[evt.ID] = evt
	if in.CreatorParticipates {
		c.seats[evt.ID] = append(c.seats[evt.ID], &Participant{
			ID: c.nextID, User: acc.usr, Role: in.CreatorRole, PointsAwarded: pointsFor(evt, in.CreatorRole), JoinedAt: now(),
		})
	}
	return ctx.JSON(http.StatusCreated, evt)
}

func (b *Backend) myEvents(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sortedEvents(b.content.events, func(evt *Event) bool {
		return evt.Creator.ID == acc.usr.ID
	}))
}

func (b *Backend) myParticipations(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	out := []Participant{}
	for _, evt := range sortedEvents(b.content.events, func(*Event) bool { return true }) {
		for _, seat := range b.content.seats[evt.ID] {
			if seat.User.ID == acc.usr.ID {
				p := *seat
				e := evt
				p.Event = &e
				out = append(out, p)
			}
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

func (b *Backend) eventByID(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (b *Backend) updateEvent(ctx echo.Context) error {
	var in eventInput
	if err := ctx.Bind(&in); err != nil {
		return badRequest("malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	if evt.Creator.ID != acc.usr.ID && acc.usr.Role != RoleAdmin {
		return badRequest("You do not have permission to edit this event")
	}
	if evt.Status != StatusPending && evt.Status != StatusApproved {
		return badRequest("Only pending or approved events can be edited")
	}
	evt.Title, evt.Description, evt.Location = in.Title, in.Description, in.Location
	evt.StartDate, evt.EndDate, evt.Type = in.StartDate, in.EndDate, in.Type
	evt.MaxOrganizers, evt.MaxVolunteers, evt.MaxAttendees = in.MaxOrganizers, in.MaxVolunteers, in.MaxAttendees
	return ctx.JSON(http.StatusOK, evt)
}

func (b *Backend) deleteEvent(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	isAdmin := acc.usr.Role == RoleAdmin
	if evt.Creator.ID != acc.usr.ID && !isAdmin {
		return badRequest("You do not have permission to delete this event")
	}
	if evt.Status == StatusApproved && !isAdmin {
		return badRequest("Cannot delete an approved event. Contact an admin to cancel it.")
	}
	delete(b.content.events, evt.ID)
	delete(b.content.seats, evt.ID)
	return ctx.String(http.StatusOK, "Event deleted successfully")
}

func pointsFor(evt *Event, role string) int {
	switch role {
	case "ORGANIZER":
		return evt.OrganizerPoints
	case "VOLUNTEER":
		return evt.VolunteerPoints
	default:
		return evt.AttendeePoints
	}
}

func capacity(evt *Event, role string) *int {
	switch role {
	case "ORGANIZER":
		return evt.MaxOrganizers
	case "VOLUNTEER":
		return evt.MaxVolunteers
	default:
		return evt.MaxAttendees
	}
}

// seatLocked gives acc a seat at evt as role and awards its points.
func (b *Backend) seatLocked(evt *Event, acc *account, role string) error {
	if evt.Status != StatusApproved {
		return badRequest("Cannot join an event that is not approved")
	}
	taken := 0
	for _, seat := range b.content.seats[evt.ID] {
		if seat.User.ID == acc.usr.ID {
			return badRequest("You have already joined this event")
		}
		if seat.Role == role {
			taken++
		}
	}
	if max := capacity(evt, role); max != nil && taken >= *max {
		return badRequest("No more slots available for " + role + " role")
	}
	points := pointsFor(evt, role)
	b.content.nextID++
	b.content.seats[evt.ID] = append(b.content.seats[evt.ID], &Participant{
		ID: b.content.nextID, User: acc.usr, Role: role, PointsAwarded: points, JoinedAt: now(),
	})
	b.addPointsLocked(acc, points)
	return nil
}

func (b *Backend) joinEvent(ctx echo.Context) error {
	var req struct {
		Role string `json:"role"`
	}
	if err := ctx.Bind(&req); err != nil {
		return badRequest("malformed body")
	}
	switch req.Role {
	case "ORGANIZER", "VOLUNTEER", "ATTENDEE":
	default:
		return badRequest("Invalid participant role")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	if err := b.seatLocked(evt, acc, req.Role); err != nil {
		return err
	}
	return ctx.String(http.StatusOK, "Successfully joined event")
}

func (b *Backend) leaveEvent(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	seats := b.content.seats[evt.ID]
	for i, seat := range seats {
		if seat.User.ID != acc.usr.ID {
			continue
		}
		b.content.seats[evt.ID] = append(seats[:i:i], seats[i+1:]...)
		penalty := seat.PointsAwarded * 2
		b.addPointsLocked(acc, -penalty)
		b.notifyLocked(acc, "POINTS_UPDATE", fmt.Sprintf("You left event '%s'. Penalty: -%d points", evt.Title, penalty))
		return ctx.String(http.StatusOK, "Left event successfully (penalty applied)")
	}
	return badRequest("You are not participating in this event")
}

func (b *Backend) moderateEvent(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if !isModerator(acc.usr) {
		return errForbidden
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	switch ctx.Param("decision") {
	case "approve":
		if evt.Status == StatusApproved {
			return badRequest("Event is already approved")
		}
		evt.Status = StatusApproved
		return ctx.String(http.StatusOK, "Event approved successfully")
	case "reject":
		evt.Status = StatusRejected
		return ctx.String(http.StatusOK, "Event rejected")
	case "cancel":
		evt.Status = StatusCancelled
		return ctx.String(http.StatusOK, "Event cancelled")
	}
	return errNotFound
}

func (b *Backend) participants(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	out := []Participant{}
	for _, seat := range b.content.seats[evt.ID] {
		out = append(out, *seat)
	}
	return ctx.JSON(http.StatusOK, out)
}

// Participation requests

func (b *Backend) submitRequest(ctx echo.Context) error {
	var req struct {
		RequestedRole string `json:"requestedRole"`
	}
	if err := ctx.Bind(&req); err != nil {
		return badRequest("malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	evt, err := b.eventLocked(ctx)
	if err != nil {
		return err
	}
	for _, r := range b.content.requests {
		if r.EventID == evt.ID && r.UserID == acc.usr.ID && r.Status == StatusPending {
			return badRequest("You already have a pending request for this event")
		}
	}
	b.content.nextID++
	r := &ParticipationRequest{
		ID: b.content.nextID, EventID: evt.ID, EventTitle: evt.Title,
		UserID: acc.usr.ID, UserName: acc.usr.Name, UserEmail: acc.usr.Email,
		RequestedRole: req.RequestedRole, Status: StatusPending, RequestedAt: now(),
	}
	b.content.requests = append(b.content.requests, r)
	return ctx.JSON(http.StatusOK, r)
}

func (b *Backend) eventRequests(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []ParticipationRequest{}
	for _, r := range b.content.requests {
		if r.EventID == id {
			out = append(out, *r)
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

func (b *Backend) myRequests(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	out := []ParticipationRequest{}
	for _, r := range b.content.requests {
		if r.UserID == acc.usr.ID {
			out = append(out, *r)
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

func (b *Backend) answerRequest(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	for _, r := range b.content.requests {
		if r.ID != id {
			continue
		}
		evt, ok := b.content.events[r.EventID]
		if !ok {
			return errNotFound
		}
		if evt.Creator.ID != acc.usr.ID && !isModerator(acc.usr) {
			return errForbidden
		}
		if r.Status != StatusPending {
			return badRequest("Request was already answered")
		}
		switch ctx.Param("decision") {
		case "approve":
			requester, ok := b.accounts[r.UserID]
			if !ok {
				return errNotFound
			}
			if err := b.seatLocked(evt, requester, r.RequestedRole); err != nil {
				return err
			}
			r.Status = StatusApproved
		case "reject":
			r.Status = StatusRejected
		default:
			return errNotFound
		}
		r.RespondedAt = now()
		r.RespondedByName = acc.usr.Name
		return ctx.NoContent(http.StatusOK)
	}
	return errNotFound
}

// Blogs

func (b *Backend) listBlogs(ctx echo.Context) error {
	category := ctx.QueryParam("category")
	status := ctx.QueryParam("status")
	global := ctx.QueryParam("isGlobal")
	uniID, _ := strconv.ParseInt(ctx.QueryParam("universityId"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	return ctx.JSON(http.StatusOK, sortedBlogs(b.content.blogs, func(blog *Blog) bool {
		return (category == "" || blog.Category == category) &&
			(status == "" || blog.Status == status) &&
			(global == "" || strconv.FormatBool(blog.IsGlobal) == global) &&
			(uniID == 0 || (blog.University != nil && blog.University.ID == uniID))
	}))
}

func (b *Backend) createBlog(ctx echo.Context) error {
	var in blogInput
	if err := ctx.Bind(&in); err != nil {
		return badRequest("malformed body")
	}
	if strings.TrimSpace(in.Title) == "" {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"title": "Title is required"})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	b.content.nextID++
	blog := &Blog{
		ID:         b.content.nextID,
		Title:      in.Title,
		Content:    in.Content,
		Category:   in.Category,
		Status:     StatusPending,
		IsGlobal:   in.IsGlobal,
		University: universityOf(acc.usr),
		Author:     acc.usr,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	b.content.blogs[blog.ID] = blog
	return ctx.JSON(http.StatusCreated, blog)
}

func (b *Backend) myBlogs(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sortedBlogs(b.content.blogs, func(blog *Blog) bool {
		return blog.Author.ID == acc.usr.ID
	}))
}

func (b *Backend) pendingBlogs(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if !isModerator(acc.usr) {
		return errForbidden
	}
	return ctx.JSON(http.StatusOK, sortedBlogs(b.content.blogs, func(blog *Blog) bool {
		return blog.Status == StatusPending
	}))
}

func (b *Backend) blogByID(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blog, err := b.blogLocked(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, blog)
}

func (b *Backend) updateBlog(ctx echo.Context) error {
	var in blogInput
	if err := ctx.Bind(&in); err != nil {
		return badRequest("malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	blog, err := b.blogLocked(ctx)
	if err != nil {
		return err
	}
	if blog.Author.ID != acc.usr.ID {
		return badRequest("You do not have permission to edit this blog")
	}
	if blog.Status == StatusRejected {
		return badRequest("Only pending or approved blogs can be edited")
	}
	blog.Title, blog.Content, blog.Category, blog.IsGlobal = in.Title, in.Content, in.Category, in.IsGlobal
	blog.Status = StatusPending
	blog.UpdatedAt = now()
	return ctx.JSON(http.StatusOK, blog)
}

func (b *Backend) deleteBlog(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	blog, err := b.blogLocked(ctx)
	if err != nil {
		return err
	}
	isAdmin := acc.usr.Role == RoleAdmin
	if blog.Author.ID != acc.usr.ID && !isAdmin {
		return badRequest("You do not have permission to delete this blog")
	}
	if blog.Status == StatusApproved && !isAdmin {
		return badRequest("Cannot delete an approved blog. Contact an admin.")
	}
	delete(b.content.blogs, blog.ID)
	return ctx.String(http.StatusOK, "Blog deleted successfully")
}

func (b *Backend) moderateBlog(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if !isModerator(acc.usr) {
		return errForbidden
	}
	blog, err := b.blogLocked(ctx)
	if err != nil {
		return err
	}
	switch ctx.Param("decision") {
	case "approve":
		if blog.Status == StatusApproved {
			return badRequest("Blog is already approved")
		}
		blog.Status = StatusApproved
		if author, ok := b.accounts[blog.Author.ID]; ok {
			points := 30
			if author.usr.Role == RoleSupervisor {
				points = 50
			}
			b.addPointsLocked(author, points)
			b.notifyLocked(author, "BLOG_APPROVAL", fmt.Sprintf("Your blog '%s' was approved", blog.Title))
		}
		return ctx.String(http.StatusOK, "Blog approved successfully")
	case "reject":
		blog.Status = StatusRejected
		return ctx.String(http.StatusOK, "Blog rejected")
	}
	return errNotFound
}

// Reports

func (b *Backend) report(ctx echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := ctx.Bind(&req); err != nil {
		return badRequest("malformed body")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return badRequest("A reason is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	kind := ctx.Param("kind")
	key := kind + "/" + ctx.Param("id") + "/" + strconv.FormatInt(acc.usr.ID, 10)
	if b.content.reporters[key] {
		return badRequest("You have already reported this " + strings.TrimSuffix(kind, "s"))
	}
	rep := &Report{ReportedBy: acc.usr, Reason: req.Reason, Status: StatusPending, CreatedAt: now()}
	switch kind {
	case "blogs":
		blog, err := b.blogLocked(ctx)
		if err != nil {
			return err
		}
		if blog.Status == StatusRejected {
			return badRequest("Cannot report a rejected blog")
		}
		blog.ReportCount++
		cp := *blog
		rep.Blog = &cp
	case "events":
		evt, err := b.eventLocked(ctx)
		if err != nil {
			return err
		}
		if evt.Status == StatusCancelled {
			return badRequest("Cannot report a cancelled event")
		}
		evt.ReportCount++
		cp := *evt
		rep.Event = &cp
	default:
		return errNotFound
	}
	b.content.reporters[key] = true
	b.content.nextID++
	rep.ID = b.content.nextID
	b.content.reports[kind] = append(b.content.reports[kind], rep)
	return ctx.JSON(http.StatusCreated, rep)
}

func (b *Backend) listReports(ctx echo.Context) error {
	status := ctx.QueryParam("status")
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if !isModerator(acc.usr) {
		return errForbidden
	}
	out := []Report{}
	for _, rep := range b.content.reports[ctx.Param("kind")] {
		if status == "" || rep.Status == status {
			out = append(out, *rep)
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

func (b *Backend) reviewReport(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if !isModerator(acc.usr) {
		return errForbidden
	}
	kind := ctx.Param("kind")
	label := "Blog"
	if kind == "events" {
		label = "Event"
	}
	for _, rep := range b.content.reports[kind] {
		if rep.ID != id {
			continue
		}
		switch ctx.Param("decision") {
		case "review":
			rep.Status = StatusReviewed
			return ctx.String(http.StatusOK, label+" report reviewed")
		case "dismiss":
			rep.Status = StatusDismissed
			return ctx.String(http.StatusOK, label+" report dismissed")
		}
		return errNotFound
	}
	return errNotFound
}
