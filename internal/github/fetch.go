// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/window"
)

// Wire types for the REST responses. Only the fields we store are
// decoded.

type wireUser struct {
	Login string `json:"login"`
}

type wireLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type wireReactions struct {
	TotalCount int `json:"total_count"`
	PlusOne    int `json:"+1"`
	MinusOne   int `json:"-1"`
	Laugh      int `json:"laugh"`
	Hooray     int `json:"hooray"`
	Confused   int `json:"confused"`
	Heart      int `json:"heart"`
	Rocket     int `json:"rocket"`
	Eyes       int `json:"eyes"`
}

type wireIssue struct {
	Number      int            `json:"number"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	State       string         `json:"state"`
	HTMLURL     string         `json:"html_url"`
	User        *wireUser      `json:"user"`
	Labels      []wireLabel    `json:"labels"`
	Assignees   []wireUser     `json:"assignees"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Reactions   *wireReactions `json:"reactions"`
	PullRequest *struct{}      `json:"pull_request,omitempty"`

	// pull request list fields
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at"`
	Base     *struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Head *struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

type wireComment struct {
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"created_at"`
	User      *wireUser      `json:"user"`
	Reactions *wireReactions `json:"reactions"`
}

type wireTimelineEvent struct {
	Event  string `json:"event"`
	Source *struct {
		Issue *struct {
			Number int `json:"number"`
		} `json:"issue"`
	} `json:"source"`
}

// FetchResult is one window's worth of fetched records.
type FetchResult struct {
	Issues []*record.Issue

	// Skipped counts records dropped because their comments or
	// timeline could not be fetched completely.
	Skipped int
}

// FetchWindow pulls every item of the given type updated inside the
// window, with full comments and timeline cross-references.
//
// The list endpoint is queried with since=window start and
// sort=updated ascending; items updated at or past the window end are
// cut off client-side, which also ends pagination early. Items whose
// detail fetches fail are skipped, not stored partially.
func (c *Client) FetchWindow(ctx context.Context, repo string, item window.ItemType, w window.Window) (*FetchResult, error) {
	path := fmt.Sprintf("/repos/%s/issues", repo)
	if item == window.ItemPullRequests {
		path = fmt.Sprintf("/repos/%s/pulls", repo)
	}

	res := &FetchResult{}
	page := 1
	for {
		params := url.Values{
			"state":     {"all"},
			"sort":      {"updated"},
			"direction": {"asc"},
			"since":     {w.Start.UTC().Format(time.RFC3339)},
			"per_page":  {strconv.Itoa(perPage)},
			"page":      {strconv.Itoa(page)},
		}

		var items []wireIssue
		header, err := c.getJSON(ctx, path, params, &items)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		reachedEnd := false
		for i := range items {
			wi := &items[i]
			if !wi.UpdatedAt.Before(w.End) {
				reachedEnd = true
				break
			}
			if wi.UpdatedAt.Before(w.Start) {
				// The pulls endpoint ignores since; skip early items.
				continue
			}
			if item == window.ItemIssues && wi.PullRequest != nil {
				// The issues endpoint interleaves PRs; those are
				// covered by the pull_requests checkpoint.
				continue
			}

			issue, err := c.hydrate(ctx, repo, wi, item)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				c.logger.Warn("skipping item with incomplete data",
					"repo", repo, "number", wi.Number, "error", err)
				res.Skipped++
				continue
			}
			res.Issues = append(res.Issues, issue)
		}

		if reachedEnd || !hasNextPage(header) {
			break
		}
		page++
	}

	c.logger.Info("window fetched",
		"repo", repo,
		"type", string(item),
		"start", w.Start,
		"end", w.End,
		"items", len(res.Issues),
		"skipped", res.Skipped,
	)
	return res, nil
}

// FetchIssue pulls one item by number with full details, regardless of
// windows. Used by the update command for targeted refreshes.
func (c *Client) FetchIssue(ctx context.Context, repo string, number int) (*record.Issue, error) {
	var wi wireIssue
	path := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
	if _, err := c.getJSON(ctx, path, nil, &wi); err != nil {
		return nil, err
	}
	item := window.ItemIssues
	if wi.PullRequest != nil {
		item = window.ItemPullRequests
	}
	return c.hydrate(ctx, repo, &wi, item)
}

// hydrate fetches comments and timeline references and converts the
// wire item to a record.
func (c *Client) hydrate(ctx context.Context, repo string, wi *wireIssue, item window.ItemType) (*record.Issue, error) {
	comments, err := c.fetchComments(ctx, repo, wi.Number)
	if err != nil {
		return nil, fmt.Errorf("comments for #%d: %w", wi.Number, err)
	}
	refs, err := c.fetchTimelineRefs(ctx, repo, wi.Number)
	if err != nil {
		return nil, fmt.Errorf("timeline for #%d: %w", wi.Number, err)
	}

	issue := convert(wi, item)
	issue.Comments = comments
	issue.CrossReferences = refs
	issue.CrossReferences = record.ExtractReferences(issue)
	return issue, nil
}

func (c *Client) fetchComments(ctx context.Context, repo string, number int) ([]record.Comment, error) {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)

	var out []record.Comment
	page := 1
	for {
		params := url.Values{
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
		}
		var comments []wireComment
		header, err := c.getJSON(ctx, path, params, &comments)
		if err != nil {
			return nil, err
		}
		for _, wc := range comments {
			comment := record.Comment{
				Body:      wc.Body,
				CreatedAt: wc.CreatedAt,
				Author:    "ghost",
			}
			if wc.User != nil {
				comment.Author = wc.User.Login
			}
			if wc.Reactions != nil {
				comment.ReactionCount = wc.Reactions.TotalCount
			}
			out = append(out, comment)
		}
		if len(comments) == 0 || !hasNextPage(header) {
			break
		}
		page++
	}
	return out, nil
}

func (c *Client) fetchTimelineRefs(ctx context.Context, repo string, number int) ([]int, error) {
	path := fmt.Sprintf("/repos/%s/issues/%d/timeline", repo, number)

	var refs []int
	page := 1
	for {
		params := url.Values{
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
		}
		var events []wireTimelineEvent
		header, err := c.getJSON(ctx, path, params, &events)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Event != "cross-referenced" || ev.Source == nil || ev.Source.Issue == nil {
				continue
			}
			refs = append(refs, ev.Source.Issue.Number)
		}
		if len(events) == 0 || !hasNextPage(header) {
			break
		}
		page++
	}
	return refs, nil
}

func convert(wi *wireIssue, item window.ItemType) *record.Issue {
	issue := &record.Issue{
		Number:    wi.Number,
		Title:     wi.Title,
		Body:      wi.Body,
		State:     record.State(wi.State),
		URL:       wi.HTMLURL,
		Author:    "ghost",
		CreatedAt: wi.CreatedAt,
		UpdatedAt: wi.UpdatedAt,
		PulledAt:  time.Now().UTC(),
	}
	if wi.User != nil {
		issue.Author = wi.User.Login
	}
	for _, l := range wi.Labels {
		issue.Labels = append(issue.Labels, record.Label{Name: l.Name, Color: l.Color})
	}
	for _, a := range wi.Assignees {
		issue.Assignees = append(issue.Assignees, a.Login)
	}
	if wi.Reactions != nil {
		issue.ReactionGroups = reactionGroups(wi.Reactions)
	}

	if item == window.ItemPullRequests || wi.PullRequest != nil {
		issue.IsPullRequest = true
		issue.MergedAt = wi.MergedAt
		issue.Merged = wi.Merged || wi.MergedAt != nil
		if issue.Merged && issue.State == record.StateClosed {
			issue.State = record.StateMerged
		}
		if wi.Base != nil {
			issue.BaseRef = wi.Base.Ref
		}
		if wi.Head != nil {
			issue.HeadRef = wi.Head.Ref
		}
	}
	return issue
}

// reactionGroups maps the REST rollup to the reaction vocabulary used
// on records.
func reactionGroups(r *wireReactions) map[string]int {
	out := map[string]int{}
	for name, count := range map[string]int{
		"THUMBS_UP":   r.PlusOne,
		"THUMBS_DOWN": r.MinusOne,
		"LAUGH":       r.Laugh,
		"HOORAY":      r.Hooray,
		"CONFUSED":    r.Confused,
		"HEART":       r.Heart,
		"ROCKET":      r.Rocket,
		"EYES":        r.Eyes,
	} {
		if count > 0 {
			out[name] = count
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
