package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/api"
)

func (cli *commandLine) table() *tabwriter.Writer {
	return tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
}

func (cli *commandLine) leaderboard(ctx context.Context, args []string) error {
	fs := cli.flagSet("leaderboard")
	scope := fs.String("scope", api.ScopeGlobal, "GLOBAL or UNIVERSITY")
	typ := fs.String("type", api.TypeMembers, "MEMBERS or EVENTS")
	uniID := fs.Int64("university", 0, "University ID for the UNIVERSITY scope")
	limit := fs.Int("limit", 0, "Only show the top N")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	q := api.LeaderboardQuery{Scope: *scope, Type: *typ, Limit: *limit}
	if *uniID > 0 {
		q.UniversityID = uniID
	}
	isEvents := strings.EqualFold(*typ, api.TypeEvents)

	var (
		members []session.User
		events  []api.RankedEvent
		err     error
	)
	switch {
	case *limit > 0 && isEvents:
		events, err = cli.client.TopEvents(ctx, q)
	case *limit > 0:
		members, err = cli.client.TopMembers(ctx, q)
	default:
		var lb api.Leaderboard
		if lb, err = cli.client.Leaderboard(ctx, q); err != nil {
			return err
		}
		if isEvents {
			events, err = lb.Events()
		} else {
			members, err = lb.Members()
		}
	}
	if err != nil {
		return err
	}

	tw := cli.table()
	if isEvents {
		fmt.Fprintln(tw, "#\tEVENT\tTYPE")
		for i, evt := range events {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, evt.Title, evt.Type)
		}
	} else {
		fmt.Fprintln(tw, "#\tNAME\tUNIVERSITY\tPOINTS\tBADGE")
		for i, usr := range members {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, usr.Name, usr.UniversityName, usr.Points, usr.CurrentBadgeName)
		}
	}
	return tw.Flush()
}

func (cli *commandLine) badges(ctx context.Context, args []string) error {
	fs := cli.flagSet("badges")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	mine, err := cli.client.MyBadges(ctx)
	if err != nil {
		return err
	}
	cli.printf("Points: %d\n", mine.CurrentPoints)
	if mine.CurrentBadge != nil {
		cli.printf("Current badge: %s\n", mine.CurrentBadge.Name)
	}
	cli.printf("\n")

	earned := make(map[int64]bool, len(mine.EarnedBadges))
	for _, eb := range mine.EarnedBadges {
		earned[eb.Badge.ID] = true
	}
	tw := cli.table()
	fmt.Fprintln(tw, "BADGE\tPOINTS\tEARNED\tDESCRIPTION")
	for _, b := range mine.AllBadges {
		mark := ""
		if earned[b.ID] {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.Name, b.PointsThreshold, mark, b.Description)
	}
	return tw.Flush()
}

func (cli *commandLine) notifications(ctx context.Context, args []string) error {
	fs := cli.flagSet("notifications")
	unread := fs.Bool("unread", false, "Only list unread notifications")
	typ := fs.String("type", "", "Only list notifications of this type")
	readID := fs.Int64("read", 0, "Mark this notification as read")
	readAll := fs.Bool("read-all", false, "Mark every notification as read")
	if err := parse(fs, args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	switch {
	case *readAll:
		if err := cli.client.MarkAllRead(ctx); err != nil {
			return err
		}
		cli.printf("All notifications marked as read.\n")
		return nil
	case *readID > 0:
		if err := cli.client.MarkRead(ctx, *readID); err != nil {
			return err
		}
		cli.printf("Notification %d marked as read.\n", *readID)
		return nil
	}

	filter := api.NotificationFilter{Type: strings.ToUpper(*typ)}
	if *unread {
		isRead := false
		filter.IsRead = &isRead
	}
	notifs, err := cli.client.Notifications(ctx, filter)
	if err != nil {
		return err
	}
	count, err := cli.client.UnreadCount(ctx)
	if err != nil {
		return err
	}

	tw := cli.table()
	fmt.Fprintln(tw, "ID\tTYPE\tDATE\tREAD\tMESSAGE")
	for _, n := range notifs {
		read := ""
		if n.IsRead {
			read = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.ID, n.Type, n.CreatedAt.Local().Format("2006-01-02 15:04"), read, n.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	cli.printf("\n%d unread\n", count)
	return nil
}
