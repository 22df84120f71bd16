// Package aula is a REST client for the Aula school portal. It rides an
// authenticated browser session: the caller hands it the cookies and the
// access token obtained from the login flow, Init discovers the current
// API version and establishes the guardian role, and every call after
// that is authenticated by the session cookies alone.
package aula

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/net/publicsuffix"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
)

const (
	// DefaultAPIBase is the unversioned API root; the version number is
	// appended during discovery.
	DefaultAPIBase = "https://www.aula.dk/api/v"

	// DefaultAPIVersion is the first version probed. The portal answers
	// 410 Gone for retired versions, so discovery walks upward from here.
	DefaultAPIVersion = 21

	csrfCookieName = "Csrfp-Token"
	csrfHeaderName = "csrfp-token"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0"

	maxVersionProbes = 20
)

// Options configures a Client.
type Options struct {
	// AccessToken seeds the bootstrap calls. It is cleared from the
	// client once Init completes and the cookie session takes over.
	AccessToken string

	// Cookies from the login flow, preloaded into the session jar.
	Cookies map[string]string

	// HTTPClient overrides the outbound client. When nil the client
	// builds its own with a fresh cookie jar.
	HTTPClient *http.Client

	// APIBase overrides DefaultAPIBase.
	APIBase string

	// APIVersion overrides DefaultAPIVersion as the discovery start.
	APIVersion int
}

// Client talks to the versioned portal API. Not safe for concurrent use
// until Init has returned.
type Client struct {
	httpClient *http.Client
	apiBase    string
	apiVersion int
	apiURL     string
	bearer     string
}

// NewClient builds a client from a completed login. Call Init before any
// of the data methods.
func NewClient(opts Options) (*Client, error) {
	base := opts.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	version := opts.APIVersion
	if version <= 0 {
		version = DefaultAPIVersion
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			// cookiejar.New only fails on a nil-options invariant
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}

	c := &Client{
		httpClient: httpClient,
		apiBase:    base,
		apiVersion: version,
		apiURL:     base + strconv.Itoa(version),
		bearer:     opts.AccessToken,
	}
	if err := c.seedCookies(opts.Cookies); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) seedCookies(cookies map[string]string) error {
	if len(cookies) == 0 || c.httpClient.Jar == nil {
		return nil
	}
	u, err := url.Parse(c.apiBase)
	if err != nil {
		return fmt.Errorf("parse api base %q: %w", c.apiBase, err)
	}
	siteRoot := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	set := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		set = append(set, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.httpClient.Jar.SetCookies(siteRoot, set)
	return nil
}

// Init discovers the current API version and establishes the guardian
// role for the session. The access token authenticates only these two
// handshake calls; it is dropped afterwards and the session cookies
// carry every later request.
func (c *Client) Init(ctx context.Context) error {
	if err := c.discoverVersion(ctx); err != nil {
		return err
	}
	resp, err := c.get(ctx, c.apiURL+"?method=profiles.getProfileContext&portalrole=guardian")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if !is2xx(resp.StatusCode) {
		return fmt.Errorf("establish guardian role: HTTP %d", resp.StatusCode)
	}
	c.bearer = ""
	return nil
}

// discoverVersion probes profiles.getProfilesByLogin, stepping the
// version number past every 410 Gone until the portal accepts one.
func (c *Client) discoverVersion(ctx context.Context) error {
	start := c.apiVersion
	version := start
	for probe := 0; probe < maxVersionProbes; probe++ {
		candidate := c.apiBase + strconv.Itoa(version)
		resp, err := c.get(ctx, candidate+"?method=profiles.getProfilesByLogin")
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone:
			version++
			continue
		case is2xx(resp.StatusCode):
			if version != start {
				logrus.WithField("version", version).Info("aula: api version moved")
			}
			c.apiVersion = version
			c.apiURL = candidate
			return nil
		default:
			return fmt.Errorf("probe api version %d: HTTP %d", version, resp.StatusCode)
		}
	}
	return fmt.Errorf("no accepted api version within %d probes of v%d", maxVersionProbes, start)
}

// APIURL reports the versioned API root settled on by Init.
func (c *Client) APIURL() string { return c.apiURL }

// Profile fetches the guardian profile with its children.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	body, err := c.getJSON(ctx, c.apiURL+"?method=profiles.getProfilesByLogin")
	if err != nil {
		return nil, err
	}
	profiles := gjson.GetBytes(body, "data.profiles")
	if !profiles.IsArray() || len(profiles.Array()) == 0 {
		return nil, fmt.Errorf("no profiles in response")
	}
	raw := profiles.Array()[0]

	profile := &Profile{
		ProfileID:   raw.Get("profileId").Int(),
		DisplayName: raw.Get("displayName").String(),
	}
	for _, child := range raw.Get("children").Array() {
		profile.Children = append(profile.Children, Child{
			ID:              child.Get("id").Int(),
			ProfileID:       child.Get("profileId").Int(),
			Name:            child.Get("name").String(),
			InstitutionName: child.Get("institutionProfile.institutionName").String(),
			ProfilePicture:  child.Get("profilePicture.url").String(),
		})
	}
	for _, ip := range raw.Get("institutionProfiles").Array() {
		profile.InstitutionProfileIDs = append(profile.InstitutionProfileIDs, ip.Get("id").Int())
	}
	for _, child := range profile.Children {
		profile.InstitutionProfileIDs = append(profile.InstitutionProfileIDs, child.ID)
	}
	return profile, nil
}

// MessageThreads lists the inbox threads, newest first.
func (c *Client) MessageThreads(ctx context.Context) ([]MessageThread, error) {
	body, err := c.getJSON(ctx, c.apiURL+"?method=messaging.getThreads&sortOn=date&orderDirection=desc&page=0")
	if err != nil {
		return nil, err
	}
	var threads []MessageThread
	for _, t := range gjson.GetBytes(body, "data.threads").Array() {
		threads = append(threads, MessageThread{
			ID:             t.Get("id").Int(),
			Subject:        t.Get("subject").String(),
			Unread:         !t.Get("read").Bool(),
			LatestActivity: t.Get("latestMessage.sendDateTime").String(),
		})
	}
	return threads, nil
}

// MessagesForThread fetches up to limit regular messages from a thread.
// System notices inside the thread are skipped.
func (c *Client) MessagesForThread(ctx context.Context, threadID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}
	u := fmt.Sprintf("%s?method=messaging.getMessagesForThread&threadId=%d&page=0&limit=%d", c.apiURL, threadID, limit)
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	var messages []Message
	for _, m := range gjson.GetBytes(body, "data.messages").Array() {
		if m.Get("messageType").String() != "Message" {
			continue
		}
		text := m.Get("text.html").String()
		if text == "" {
			text = m.Get("text").String()
		}
		messages = append(messages, Message{
			ID:          m.Get("id").String(),
			SenderName:  m.Get("sender.fullName").String(),
			SendTime:    m.Get("sendDateTime").String(),
			ContentHTML: text,
		})
		if len(messages) >= limit {
			break
		}
	}
	return messages, nil
}

// CalendarEvents fetches events for the given institution profile IDs
// over [start, end]. For lessons it resolves the teacher, and when the
// lesson is marked substituted, the stand-in.
func (c *Client) CalendarEvents(ctx context.Context, institutionProfileIDs []int64, start, end time.Time) ([]CalendarEvent, error) {
	payload := `{"resourceIds":[]}`
	payload, _ = sjson.Set(payload, "instProfileIds", institutionProfileIDs)
	payload, _ = sjson.Set(payload, "start", start.Format("2006-01-02 00:00:00.0000-0700"))
	payload, _ = sjson.Set(payload, "end", end.Format("2006-01-02 23:59:59.0000-0700"))

	body, err := c.postJSON(ctx, c.apiURL+"?method=calendar.getEventsByProfileIdsAndResourceIds", payload)
	if err != nil {
		return nil, err
	}
	var events []CalendarEvent
	for _, ev := range gjson.GetBytes(body, "data").Array() {
		lesson := ev.Get("lesson")
		event := CalendarEvent{
			ID:             ev.Get("id").Int(),
			Title:          ev.Get("title").String(),
			Start:          parseEventTime(ev.Get("startDateTime").String()),
			End:            parseEventTime(ev.Get("endDateTime").String()),
			TeacherName:    participantByRole(lesson, "primaryTeacher"),
			HasSubstitute:  strings.EqualFold(lesson.Get("lessonStatus").String(), "substitute"),
			SubstituteName: participantByRole(lesson, "substituteTeacher"),
			Location:       lesson.Get("primaryResource.name").String(),
			BelongsTo:      ev.Get("belongsToProfiles.0").Int(),
		}
		events = append(events, event)
	}
	return events, nil
}

// DailyOverview fetches the presence snapshot for one child.
func (c *Client) DailyOverview(ctx context.Context, childID int64) (*DailyOverview, error) {
	u := fmt.Sprintf("%s?method=presence.getDailyOverview&childIds[]=%d", c.apiURL, childID)
	body, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	entry := gjson.GetBytes(body, "data.0")
	if !entry.Exists() {
		return nil, fmt.Errorf("no daily overview for child %d", childID)
	}
	return &DailyOverview{
		ID:           entry.Get("id").Int(),
		Status:       entry.Get("status").Int(),
		Location:     entry.Get("location").String(),
		CheckInTime:  entry.Get("checkInTime").String(),
		CheckOutTime: entry.Get("checkOutTime").String(),
		EntryTime:    entry.Get("entryTime").String(),
		ExitTime:     entry.Get("exitTime").String(),
		ExitWith:     entry.Get("exitWith").String(),
		Comment:      entry.Get("comment").String(),
	}, nil
}

// Posts fetches institution news posts, newest first. page is 1-based.
func (c *Client) Posts(ctx context.Context, institutionProfileIDs []int64, page, limit int) ([]Post, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{
		"method": {"posts.getAllPosts"},
		"parent": {"profile"},
		"index":  {strconv.Itoa(page - 1)},
		"limit":  {strconv.Itoa(limit)},
	}
	for _, id := range institutionProfileIDs {
		q.Add("institutionProfileIds[]", strconv.FormatInt(id, 10))
	}
	body, err := c.getJSON(ctx, c.apiURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var posts []Post
	for _, p := range gjson.GetBytes(body, "data.posts").Array() {
		if !p.Get("id").Exists() || !p.Get("title").Exists() {
			continue
		}
		posts = append(posts, Post{
			ID:        p.Get("id").Int(),
			Title:     p.Get("title").String(),
			Content:   p.Get("content.html").String(),
			Timestamp: p.Get("timestamp").String(),
			OwnerName: p.Get("ownerProfile.fullName").String(),
		})
	}
	return posts, nil
}

func participantByRole(lesson gjson.Result, role string) string {
	for _, p := range lesson.Get("participants").Array() {
		if p.Get("participantRole").String() == role {
			return p.Get("teacherName").String()
		}
	}
	return ""
}

func parseEventTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	logrus.WithField("value", value).Warn("aula: unparseable event time")
	return time.Time{}
}

// csrfToken reads the anti-forgery token the portal set on the session.
func (c *Client) csrfToken() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	u, err := url.Parse(c.apiBase)
	if err != nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return readAPIBody(resp, rawURL)
}

func (c *Client) postJSON(ctx context.Context, rawURL, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return readAPIBody(resp, rawURL)
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Network("portal request", err)
	}
	return resp, nil
}

func readAPIBody(resp *http.Response, rawURL string) ([]byte, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, autherr.Network("read portal response", err)
	}
	if !is2xx(resp.StatusCode) {
		return nil, fmt.Errorf("%s: HTTP %d", methodOf(rawURL), resp.StatusCode)
	}
	return buf.Bytes(), nil
}

func methodOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if m := u.Query().Get("method"); m != "" {
			return m
		}
	}
	return rawURL
}

func is2xx(code int) bool { return code >= 200 && code < 300 }
