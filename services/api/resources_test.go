package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/testutil"
)

const testPwd = "Str0ng!pass"

func TestClient_accountLifecycle(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	uni := int64(3)

	resp, err := client.Register(ctx, session.RegisterRequest{
		Name: "Grace Hopper", Email: "grace@uni.edu", Password: testPwd,
		Role: session.RoleStudent, UniversityID: &uni,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Token, "verification required")
	assert.Equal(t, "grace@uni.edu", resp.Email)

	_, err = client.Login(ctx, session.LoginRequest{Email: "grace@uni.edu", Password: testPwd})
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnverified())
	assert.False(t, apiErr.SessionExpired())

	_, err = client.ResendVerification(ctx, session.ResendVerificationRequest{Email: "grace@uni.edu"})
	require.NoError(t, err)
	msg, err := client.VerifyEmail(ctx, backend.VerificationToken())
	require.NoError(t, err)
	assert.Equal(t, "Email verified successfully. You can now log in.", msg)

	resp, err = client.Login(ctx, session.LoginRequest{Email: "grace@uni.edu", Password: testPwd})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	tokens.set(resp.Token)

	usr, err := client.CheckSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, usr.ID)

	require.NoError(t, client.Logout(ctx))
	_, err = client.CheckSession(ctx)
	assert.True(t, IsKind(err, KindUnauthorized), "revoked token")
}

func TestClient_registerValidation(t *testing.T) {
	client, _, _ := newTestClient(t)

	_, err := client.Register(context.Background(), session.RegisterRequest{Name: "G", Email: "nope", Password: "short"})

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRequest, apiErr.Kind)
	assert.Len(t, apiErr.Fields, 3)
	assert.Contains(t, apiErr.Fields, "email")
}

func TestClient_passwordReset(t *testing.T) {
	ctx := context.Background()
	client, backend, _ := newTestClient(t)
	backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)

	msg, err := client.ForgotPassword(ctx, session.ForgotPasswordRequest{Email: "ada@uni.edu"})
	require.NoError(t, err)
	assert.Equal(t, "Password reset link sent to ada@uni.edu", msg)

	token := backend.ResetToken()
	valid, err := client.ValidateResetToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = client.ValidateResetToken(ctx, "1.garbage")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = client.ResetPassword(ctx, session.ResetPasswordRequest{Token: token, NewPassword: "N3w!password"})
	require.NoError(t, err)

	_, err = client.Login(ctx, session.LoginRequest{Email: "ada@uni.edu", Password: testPwd})
	assert.True(t, IsKind(err, KindUnauthorized))
	_, err = client.Login(ctx, session.LoginRequest{Email: "ada@uni.edu", Password: "N3w!password"})
	assert.NoError(t, err)
}

func TestClient_profile(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	usr := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	other := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleSupervisor, true)
	tokens.set(backend.Token(t, usr))

	uni := int64(2)
	updated, err := client.UpdateProfile(ctx, ProfileUpdate{Name: "Ada King", UniversityID: &uni})
	require.NoError(t, err)
	assert.Equal(t, "Ada King", updated.Name)
	require.NotNil(t, updated.UniversityID)
	assert.Equal(t, uni, *updated.UniversityID)
	assert.NotEmpty(t, updated.UniversityName)

	_, err = client.UpdateProfile(ctx, ProfileUpdate{Email: "alan@uni.edu"})
	assert.EqualError(t, err, "Email is already registered")

	found, err := client.User(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alan Turing", found.Name)

	_, err = client.User(ctx, 999)
	assert.True(t, IsKind(err, KindRequest))

	_, err = client.ChangePassword(ctx, session.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "N3w!password"})
	assert.EqualError(t, err, "Current password is incorrect")
	msg, err := client.ChangePassword(ctx, session.ChangePasswordRequest{OldPassword: testPwd, NewPassword: "N3w!password"})
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", msg)
}

func TestClient_gamification(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	ada := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	alan := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleStudent, true)
	backend.SetPoints(ada.ID, 120)
	backend.SetPoints(alan.ID, 600)
	tokens.set(backend.Token(t, ada))

	board, err := client.Leaderboard(ctx, LeaderboardQuery{Scope: ScopeGlobal, Type: TypeMembers})
	require.NoError(t, err)
	members, err := board.Members()
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, alan.ID, members[0].ID)
	assert.Equal(t, "Champion", members[0].CurrentBadgeName)
	_, err = board.Events()
	assert.Error(t, err, "wrong leaderboard type")

	top, err := client.TopMembers(ctx, LeaderboardQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, alan.ID, top[0].ID)

	events, err := client.TopEvents(ctx, LeaderboardQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Hackathon", events[0].Title)

	all, err := client.Badges(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := client.MyBadges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 120, mine.CurrentPoints)
	assert.Len(t, mine.EarnedBadges, 2)
	require.NotNil(t, mine.CurrentBadge)
	assert.Equal(t, "Contributor", mine.CurrentBadge.Name)
	assert.False(t, mine.EarnedBadges[0].EarnedAt.IsZero())
}

func TestClient_notifications(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	usr := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	backend.Notify(usr.ID, "BADGE", "You earned Contributor")
	backend.Notify(usr.ID, "EVENT", "Hackathon starts tomorrow")
	backend.Notify(usr.ID, "EVENT", "Hackathon results")
	tokens.set(backend.Token(t, usr))

	all, err := client.Notifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	count, err := client.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, client.MarkRead(ctx, all[0].ID))
	unread := false
	left, err := client.Notifications(ctx, NotificationFilter{IsRead: &unread})
	require.NoError(t, err)
	assert.Len(t, left, 2)

	events, err := client.Notifications(ctx, NotificationFilter{Type: "EVENT"})
	require.NoError(t, err)
	for _, n := range events {
		assert.True(t, strings.HasPrefix(n.Message, "Hackathon"))
	}

	err = client.MarkRead(ctx, 999)
	assert.True(t, IsKind(err, KindRequest))

	require.NoError(t, client.MarkAllRead(ctx))
	count, err = client.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClient_events(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	ada := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	alan := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleSupervisor, true)
	tokens.set(backend.Token(t, ada))

	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	evt, err := client.CreateEvent(ctx, EventInput{
		Title: "Go meetup", Description: "Talks and pizza", Location: "Room 42", Type: "MEETUP",
		StartDate: NewTime(start), EndDate: NewTime(start.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, evt.Status)
	assert.True(t, evt.StartDate.Equal(start), "start date: %v", evt.StartDate)
	require.NotNil(t, evt.Creator)
	assert.Equal(t, ada.ID, evt.Creator.ID)

	_, err = client.JoinEvent(ctx, evt.ID, RoleAttendee)
	assert.EqualError(t, err, "Cannot join an event that is not approved")
	_, err = client.ApproveEvent(ctx, evt.ID)
	assert.True(t, IsKind(err, KindForbidden))

	tokens.set(backend.Token(t, alan))
	msg, err := client.ApproveEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Event approved successfully", msg)

	tokens.set(backend.Token(t, ada))
	msg, err = client.JoinEvent(ctx, evt.ID, RoleVolunteer)
	require.NoError(t, err)
	assert.Equal(t, "Successfully joined event", msg)
	assert.Equal(t, 20, backend.Points(ada.ID))
	_, err = client.JoinEvent(ctx, evt.ID, RoleAttendee)
	assert.EqualError(t, err, "You have already joined this event")

	parts, err := client.Participants(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, RoleVolunteer, parts[0].Role)
	assert.Equal(t, ada.ID, parts[0].User.ID)
	assert.False(t, parts[0].JoinedAt.IsZero())

	mine, err := client.MyParticipations(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.NotNil(t, mine[0].Event)
	assert.Equal(t, "Go meetup", mine[0].Event.Title)

	msg, err = client.LeaveEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Left event successfully (penalty applied)", msg)
	assert.Zero(t, backend.Points(ada.ID), "penalty is twice the points, floored at zero")
	_, err = client.LeaveEvent(ctx, evt.ID)
	assert.EqualError(t, err, "You are not participating in this event")

	approved, err := client.Events(ctx, EventFilter{Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, evt.ID, approved[0].ID)
	none, err := client.Events(ctx, EventFilter{Type: "CONFERENCE"})
	require.NoError(t, err)
	assert.Empty(t, none)

	created, err := client.MyEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 1)

	updated, err := client.UpdateEvent(ctx, evt.ID, EventInput{
		Title: "Go meetup #2", Description: "More talks", Location: "Room 43", Type: "MEETUP",
		StartDate: NewTime(start), EndDate: NewTime(start.Add(3 * time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, "Go meetup #2", updated.Title)

	_, err = client.DeleteEvent(ctx, evt.ID)
	assert.EqualError(t, err, "Cannot delete an approved event. Contact an admin to cancel it.")

	tokens.set(backend.Token(t, alan))
	msg, err = client.CancelEvent(ctx, evt.ID, "venue closed")
	require.NoError(t, err)
	assert.Equal(t, "Event cancelled", msg)
	got, err := client.Event(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = client.Event(ctx, 999)
	assert.True(t, IsKind(err, KindRequest))
}

func TestClient_eventSeats(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	ada := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	grace := backend.AddUser(t, "Grace Hopper", "grace@uni.edu", testPwd, testutil.RoleStudent, true)
	alan := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleSupervisor, true)
	evt := backend.AddEvent(alan, "Hackathon", testutil.StatusApproved)
	backend.LimitSeats(evt.ID, RoleOrganizer, 1)

	tokens.set(backend.Token(t, ada))
	_, err := client.JoinEvent(ctx, evt.ID, RoleOrganizer)
	require.NoError(t, err)
	assert.Equal(t, 50, backend.Points(ada.ID))

	tokens.set(backend.Token(t, grace))
	_, err = client.JoinEvent(ctx, evt.ID, RoleOrganizer)
	assert.EqualError(t, err, "No more slots available for ORGANIZER role")

	req, err := client.RequestParticipation(ctx, evt.ID, RoleVolunteer)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "Hackathon", req.EventTitle)
	assert.True(t, req.RespondedAt.IsZero())
	_, err = client.RequestParticipation(ctx, evt.ID, RoleVolunteer)
	assert.Error(t, err, "one pending request per event")

	assert.True(t, IsKind(client.ApproveParticipation(ctx, req.ID), KindForbidden), "only the organizers answer")

	tokens.set(backend.Token(t, alan))
	reqs, err := client.ParticipationRequests(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.NoError(t, client.ApproveParticipation(ctx, req.ID))
	assert.Error(t, client.RejectParticipation(ctx, req.ID), "already answered")

	tokens.set(backend.Token(t, grace))
	mine, err := client.MyParticipationRequests(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, StatusApproved, mine[0].Status)
	assert.Equal(t, "Alan Turing", mine[0].RespondedByName)
	assert.False(t, mine[0].RespondedAt.IsZero())
	assert.Equal(t, 20, backend.Points(grace.ID))

	parts, err := client.Participants(ctx, evt.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestClient_blogs(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	ada := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	alan := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleSupervisor, true)
	tokens.set(backend.Token(t, ada))

	post, err := client.CreateBlog(ctx, BlogInput{Title: "Internship at CERN", Content: "Apply before March.", Category: CategoryInternship})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, post.Status)
	require.NotNil(t, post.Author)
	assert.Equal(t, "Ada Lovelace", post.Author.Name)
	draft, err := client.CreateBlog(ctx, BlogInput{Title: "Draft", Content: "Not ready yet at all.", Category: CategoryArticle})
	require.NoError(t, err)

	_, err = client.PendingBlogs(ctx)
	assert.True(t, IsKind(err, KindForbidden))
	_, err = client.ApproveBlog(ctx, post.ID)
	assert.True(t, IsKind(err, KindForbidden))

	tokens.set(backend.Token(t, alan))
	pending, err := client.PendingBlogs(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	msg, err := client.ApproveBlog(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blog approved successfully", msg)
	assert.Equal(t, 30, backend.Points(ada.ID))
	msg, err = client.RejectBlog(ctx, draft.ID, "too short")
	require.NoError(t, err)
	assert.Equal(t, "Blog rejected", msg)

	tokens.set(backend.Token(t, ada))
	internships, err := client.Blogs(ctx, BlogFilter{Category: "internship"})
	require.NoError(t, err)
	require.Len(t, internships, 1)
	assert.Equal(t, post.ID, internships[0].ID)
	global := true
	none, err := client.Blogs(ctx, BlogFilter{IsGlobal: &global})
	require.NoError(t, err)
	assert.Empty(t, none)

	got, err := client.Blog(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	mine, err := client.MyBlogs(ctx)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = client.UpdateBlog(ctx, draft.ID, BlogInput{Title: "Draft", Content: "Still not ready.", Category: CategoryArticle})
	assert.EqualError(t, err, "Only pending or approved blogs can be edited")
	_, err = client.DeleteBlog(ctx, post.ID)
	assert.EqualError(t, err, "Cannot delete an approved blog. Contact an admin.")
	msg, err = client.DeleteBlog(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blog deleted successfully", msg)
}

func TestClient_reports(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	ada := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", testPwd, testutil.RoleStudent, true)
	alan := backend.AddUser(t, "Alan Turing", "alan@uni.edu", testPwd, testutil.RoleSupervisor, true)
	evt := backend.AddEvent(alan, "Hackathon", testutil.StatusApproved)
	blog := backend.AddBlog(alan, "Job offer", "JOB", testutil.StatusApproved)
	tokens.set(backend.Token(t, ada))

	rep, err := client.Report(ctx, ReportBlogs, blog.ID, "spam")
	require.NoError(t, err)
	assert.Equal(t, ReportPending, rep.Status)
	require.NotNil(t, rep.Blog)
	assert.Nil(t, rep.Event)
	assert.Equal(t, "Job offer", rep.Blog.Title)
	_, err = client.Report(ctx, ReportBlogs, blog.ID, "spam again")
	assert.EqualError(t, err, "You have already reported this blog")
	evtRep, err := client.Report(ctx, ReportEvents, evt.ID, "duplicate")
	require.NoError(t, err)
	require.NotNil(t, evtRep.Event)

	_, err = client.Reports(ctx, ReportBlogs, "")
	assert.True(t, IsKind(err, KindForbidden))

	tokens.set(backend.Token(t, alan))
	reps, err := client.Reports(ctx, ReportBlogs, "")
	require.NoError(t, err)
	require.Len(t, reps, 1)
	require.NotNil(t, reps[0].ReportedBy)
	assert.Equal(t, ada.ID, reps[0].ReportedBy.ID)

	msg, err := client.ResolveReport(ctx, ReportBlogs, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blog report reviewed", msg)
	msg, err = client.DismissReport(ctx, ReportEvents, evtRep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Event report dismissed", msg)

	pending, err := client.Reports(ctx, ReportBlogs, "pending")
	require.NoError(t, err)
	assert.Empty(t, pending)
	dismissed, err := client.Reports(ctx, ReportEvents, ReportDismissed)
	require.NoError(t, err)
	assert.Len(t, dismissed, 1)

	got, err := client.Event(ctx, evt.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ReportCount)
}
