package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unihub/unihub/services/api"
)

// dateLayout is how dates are typed and printed on the command line.
const dateLayout = "2006-01-02 15:04"

var errOneTarget = errors.New("pass exactly one of -event or -blog")

func formatDate(t api.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func parseDate(s string) (api.Time, error) {
	if s == "" {
		return api.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return api.Time{}, fmt.Errorf("invalid date %q, use %q", s, dateLayout)
	}
	return api.NewTime(t), nil
}

func seats(max *int) string {
	if max == nil {
		return "unlimited"
	}
	return fmt.Sprint(*max)
}

func (cli *commandLine) events(ctx context.Context, args []string) error {
	fs := cli.flagSet("events")
	status := fs.String("status", "", "Only list events with this status")
	typ := fs.String("type", "", "Only list events of this type")
	uniID := fs.Int64("university", 0, "Only list events of this university")
	mine := fs.Bool("mine", false, "List the events you created")
	joined := fs.Bool("joined", false, "List the events you take part in")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	if *joined {
		parts, err := cli.client.MyParticipations(ctx)
		if err != nil {
			return err
		}
		tw := cli.table()
		fmt.Fprintln(tw, "ID\tEVENT\tROLE\tPOINTS\tJOINED")
		for _, p := range parts {
			var id int64
			title := "?"
			if p.Event != nil {
				id, title = p.Event.ID, p.Event.Title
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", id, title, p.Role, p.PointsAwarded, formatDate(p.JoinedAt))
		}
		return tw.Flush()
	}

	var (
		evts []api.Event
		err  error
	)
	if *mine {
		evts, err = cli.client.MyEvents(ctx)
	} else {
		filter := api.EventFilter{Status: *status, Type: *typ}
		if *uniID > 0 {
			filter.UniversityID = uniID
		}
		evts, err = cli.client.Events(ctx, filter)
	}
	if err != nil {
		return err
	}
	tw := cli.table()
	fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tSTARTS\tSTATUS")
	for _, evt := range evts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", evt.ID, evt.Title, evt.Type, formatDate(evt.StartDate), evt.Status)
	}
	return tw.Flush()
}

func (cli *commandLine) event(ctx context.Context, args []string) error {
	fs := cli.flagSet("event")
	id := fs.Int64("id", 0, "Event ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	evt, err := cli.client.Event(ctx, *id)
	if err != nil {
		return err
	}
	parts, err := cli.client.Participants(ctx, *id)
	if err != nil {
		return err
	}
	cli.printf("%s [%s]\n", evt.Title, evt.Status)
	cli.printf("%s, %s to %s at %s\n", evt.Type, formatDate(evt.StartDate), formatDate(evt.EndDate), evt.Location)
	if evt.Creator != nil {
		cli.printf("Created by %s\n", evt.Creator.Name)
	}
	if evt.Description != "" {
		cli.printf("\n%s\n", evt.Description)
	}
	cli.printf("\n")

	tw := cli.table()
	fmt.Fprintln(tw, "ROLE\tPOINTS\tSEATS")
	fmt.Fprintf(tw, "%s\t%d\t%s\n", api.RoleOrganizer, evt.OrganizerPoints, seats(evt.MaxOrganizers))
	fmt.Fprintf(tw, "%s\t%d\t%s\n", api.RoleVolunteer, evt.VolunteerPoints, seats(evt.MaxVolunteers))
	fmt.Fprintf(tw, "%s\t%d\t%s\n", api.RoleAttendee, evt.AttendeePoints, seats(evt.MaxAttendees))
	if err := tw.Flush(); err != nil {
		return err
	}

	cli.printf("\n%d participant(s)\n", len(parts))
	tw = cli.table()
	for _, p := range parts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.User.Name, p.Role, formatDate(p.JoinedAt))
	}
	return tw.Flush()
}

func (cli *commandLine) join(ctx context.Context, args []string) error {
	fs := cli.flagSet("join")
	id := fs.Int64("id", 0, "Event ID")
	role := fs.String("role", api.RoleAttendee, "ORGANIZER, VOLUNTEER or ATTENDEE")
	request := fs.Bool("request", false, "Ask the organizers instead of joining directly")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	r, ok := api.NormalizeParticipantRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q, use one of %s", *role, strings.Join(api.ParticipantRoles, ", "))
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	if *request {
		req, err := cli.client.RequestParticipation(ctx, *id, r)
		if err != nil {
			return err
		}
		cli.printf("Request %d sent, the organizers of %s will answer it.\n", req.ID, req.EventTitle)
		return nil
	}
	msg, err := cli.client.JoinEvent(ctx, *id, r)
	if err != nil {
		return err
	}
	cli.printf("%s.\n", strings.TrimSuffix(msg, "."))
	return nil
}

func (cli *commandLine) leave(ctx context.Context, args []string) error {
	fs := cli.flagSet("leave")
	id := fs.Int64("id", 0, "Event ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	msg, err := cli.client.LeaveEvent(ctx, *id)
	if err != nil {
		return err
	}
	cli.printf("%s.\n", strings.TrimSuffix(msg, "."))
	return nil
}

func (cli *commandLine) newEvent(ctx context.Context, args []string) error {
	fs := cli.flagSet("new-event")
	in := api.EventInput{}
	fs.StringVar(&in.Title, "title", "", "Title")
	fs.StringVar(&in.Description, "description", "", "Description")
	fs.StringVar(&in.Location, "location", "", "Location")
	fs.StringVar(&in.Type, "type", "", "Event type, e.g. WORKSHOP")
	start := fs.String("start", "", "Start, as "+dateLayout)
	end := fs.String("end", "", "End, as "+dateLayout)
	role := fs.String("role", "", "Take part in your event with this role")
	if err := parse(fs, args); err != nil {
		return err
	}
	if in.Title == "" {
		fs.Usage()
		return errHelp
	}
	var err error
	if in.StartDate, err = parseDate(*start); err != nil {
		return err
	}
	if in.EndDate, err = parseDate(*end); err != nil {
		return err
	}
	if *role != "" {
		in.CreatorParticipates, in.CreatorRole = true, *role
	}
	if err := in.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	evt, err := cli.client.CreateEvent(ctx, in)
	if err != nil {
		return err
	}
	cli.printf("Event %d submitted, it is listed once a supervisor approves it.\n", evt.ID)
	return nil
}

func (cli *commandLine) blogs(ctx context.Context, args []string) error {
	fs := cli.flagSet("blogs")
	category := fs.String("category", "", "ARTICLE, INTERNSHIP or JOB")
	status := fs.String("status", "", "Only list posts with this status")
	mine := fs.Bool("mine", false, "List your posts")
	pending := fs.Bool("pending", false, "List the posts waiting for approval")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	var (
		posts []api.Blog
		err   error
	)
	switch {
	case *mine:
		posts, err = cli.client.MyBlogs(ctx)
	case *pending:
		posts, err = cli.client.PendingBlogs(ctx)
	default:
		posts, err = cli.client.Blogs(ctx, api.BlogFilter{Category: *category, Status: *status})
	}
	if err != nil {
		return err
	}
	tw := cli.table()
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tAUTHOR\tSTATUS")
	for _, post := range posts {
		author := ""
		if post.Author != nil {
			author = post.Author.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", post.ID, post.Title, post.Category, author, post.Status)
	}
	return tw.Flush()
}

func (cli *commandLine) blog(ctx context.Context, args []string) error {
	fs := cli.flagSet("blog")
	id := fs.Int64("id", 0, "Blog post ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	post, err := cli.client.Blog(ctx, *id)
	if err != nil {
		return err
	}
	cli.printf("%s [%s, %s]\n", post.Title, post.Category, post.Status)
	if post.Author != nil {
		cli.printf("By %s on %s\n", post.Author.Name, formatDate(post.CreatedAt))
	}
	cli.printf("\n%s\n", post.Content)
	return nil
}

func (cli *commandLine) newBlog(ctx context.Context, args []string) error {
	fs := cli.flagSet("new-blog")
	in := api.BlogInput{}
	fs.StringVar(&in.Title, "title", "", "Title")
	fs.StringVar(&in.Content, "content", "", "Content")
	fs.StringVar(&in.Category, "category", api.CategoryArticle, "ARTICLE, INTERNSHIP or JOB")
	fs.BoolVar(&in.IsGlobal, "global", false, "Show the post to every university")
	if err := parse(fs, args); err != nil {
		return err
	}
	if in.Title == "" {
		fs.Usage()
		return errHelp
	}
	if err := in.Validate(cli.validate, cli.translator); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	post, err := cli.client.CreateBlog(ctx, in)
	if err != nil {
		return err
	}
	cli.printf("Blog post %d submitted, it is listed once a supervisor approves it.\n", post.ID)
	return nil
}

// target reads the -event and -blog flags, of which exactly one is set.
func target(evtID, blogID int64) (string, int64, error) {
	switch {
	case evtID > 0 && blogID <= 0:
		return api.ReportEvents, evtID, nil
	case blogID > 0 && evtID <= 0:
		return api.ReportBlogs, blogID, nil
	}
	return "", 0, errOneTarget
}

func (cli *commandLine) report(ctx context.Context, args []string) error {
	fs := cli.flagSet("report")
	evtID := fs.Int64("event", 0, "Event ID")
	blogID := fs.Int64("blog", 0, "Blog post ID")
	reason := fs.String("reason", "", "Why it should be reviewed")
	if err := parse(fs, args); err != nil {
		return err
	}
	kind, id, err := target(*evtID, *blogID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*reason) == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	rep, err := cli.client.Report(ctx, kind, id, *reason)
	if err != nil {
		return err
	}
	cli.printf("Report %d filed, a supervisor will review it.\n", rep.ID)
	return nil
}

// moderate builds the approve and reject commands of the supervisors.
func (cli *commandLine) moderate(approve bool) func(context.Context, []string) error {
	name := "reject"
	if approve {
		name = "approve"
	}
	return func(ctx context.Context, args []string) error {
		fs := cli.flagSet(name)
		evtID := fs.Int64("event", 0, "Event ID")
		blogID := fs.Int64("blog", 0, "Blog post ID")
		reason := fs.String("reason", "", "Reason given to the author")
		if err := parse(fs, args); err != nil {
			return err
		}
		kind, id, err := target(*evtID, *blogID)
		if err != nil {
			return err
		}
		if _, err := cli.requireSession(ctx); err != nil {
			return err
		}

		var msg string
		switch {
		case kind == api.ReportEvents && approve:
			msg, err = cli.client.ApproveEvent(ctx, id)
		case kind == api.ReportEvents:
			msg, err = cli.client.RejectEvent(ctx, id, *reason)
		case approve:
			msg, err = cli.client.ApproveBlog(ctx, id)
		default:
			msg, err = cli.client.RejectBlog(ctx, id, *reason)
		}
		if err != nil {
			return err
		}
		cli.printf("%s.\n", strings.TrimSuffix(msg, "."))
		return nil
	}
}
