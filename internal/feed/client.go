package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"duebell/pkg/logx"
)

// ErrUnavailable marks transient feed failures (transport, auth, decode).
// A cycle hitting it aborts without touching state and retries next tick.
var ErrUnavailable = errors.New("assignment feed unavailable")

type Config struct {
	BaseURL  string
	Token    string
	CourseID string // optional; empty means all active courses
	Timeout  time.Duration
}

type Client struct {
	base   string
	token  string
	course string
	httpc  *http.Client
	log    logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("canvas base url is empty")
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("canvas token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		course: strings.TrimSpace(cfg.CourseID),
		httpc:  &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

type course struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type apiAssignment struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	DueAt       string      `json:"due_at"`
	Description string      `json:"description"`
	HTMLURL     string      `json:"html_url"`
}

// ListUpcoming returns assignments due inside [now, now+horizon],
// ordered as the API returns them. Entries without a parseable due time
// are skipped so one bad datum never blocks the rest of the batch.
func (c *Client) ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]Assignment, error) {
	courses, err := c.listCourses(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(horizon)
	var out []Assignment
	for _, crs := range courses {
		raw, err := c.listCourseAssignments(ctx, crs.ID.String())
		if err != nil {
			return nil, err
		}
		for _, a := range raw {
			due, ok := parseDueAt(a.DueAt)
			if !ok {
				if strings.TrimSpace(a.DueAt) != "" {
					c.log.Warn("skipping assignment with unparseable due time",
						logx.String("assignment_id", a.ID.String()),
						logx.String("due_at", a.DueAt))
				}
				continue
			}
			if due.Before(now) || due.After(cutoff) {
				continue
			}
			name := crs.Name
			if name == "" {
				name = "Course " + crs.ID.String()
			}
			out = append(out, Assignment{
				ID:          a.ID.String(),
				Name:        a.Name,
				Course:      name,
				DueAt:       due,
				Description: a.Description,
				URL:         a.HTMLURL,
			})
		}
	}
	return out, nil
}

func (c *Client) listCourses(ctx context.Context) ([]course, error) {
	if c.course != "" {
		// Single-course mode: the name is filled in by the course fetch.
		var crs course
		if err := c.getJSON(ctx, "/api/v1/courses/"+url.PathEscape(c.course), nil, &crs); err != nil {
			return nil, err
		}
		return []course{crs}, nil
	}
	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Set("per_page", "100")
	var courses []course
	if err := c.getJSON(ctx, "/api/v1/courses", q, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

func (c *Client) listCourseAssignments(ctx context.Context, courseID string) ([]apiAssignment, error) {
	q := url.Values{}
	q.Set("bucket", "upcoming")
	q.Set("per_page", "100")
	var out []apiAssignment
	if err := c.getJSON(ctx, "/api/v1/courses/"+url.PathEscape(courseID)+"/assignments", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// parseDueAt accepts the RFC3339 timestamps Canvas emits (always UTC,
// usually with a trailing Z).
func parseDueAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
