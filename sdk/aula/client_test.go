package aula

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// portalServer fakes the versioned portal API. Versions below live
// answer 410 Gone, the live one serves the method handlers.
type portalServer struct {
	srv  *httptest.Server
	live int

	mu           sync.Mutex
	authByMethod map[string][]string
	csrfByMethod map[string]string
	calendarBody string
}

func newPortalServer(t *testing.T) *portalServer {
	t.Helper()
	ps := &portalServer{
		live:         23,
		authByMethod: make(map[string][]string),
		csrfByMethod: make(map[string]string),
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *portalServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v") {
		http.NotFound(w, r)
		return
	}
	version, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/v"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if version < ps.live {
		w.WriteHeader(http.StatusGone)
		return
	}
	if version > ps.live {
		http.NotFound(w, r)
		return
	}

	method := r.URL.Query().Get("method")
	ps.mu.Lock()
	ps.authByMethod[method] = append(ps.authByMethod[method], r.Header.Get("Authorization"))
	ps.csrfByMethod[method] = r.Header.Get("csrfp-token")
	ps.mu.Unlock()

	switch method {
	case "profiles.getProfilesByLogin":
		fmt.Fprint(w, `{"data":{"profiles":[{
			"profileId":42,
			"displayName":"Test Forælder",
			"institutionProfiles":[{"id":900}],
			"children":[
				{"id":1001,"profileId":11,"name":"Alma","institutionProfile":{"institutionName":"Skolen"},"profilePicture":{"url":"https://img/alma"}},
				{"id":1002,"profileId":12,"name":"Emil","institutionProfile":{"institutionName":"Skolen"}}
			]}]}}`)
	case "profiles.getProfileContext":
		if r.URL.Query().Get("portalrole") != "guardian" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"data":{"portalRole":"guardian"}}`)
	case "messaging.getThreads":
		fmt.Fprint(w, `{"data":{"threads":[
			{"id":7,"subject":"Lejrskole","read":false,"latestMessage":{"sendDateTime":"2026-08-28T10:00:00+02:00"}},
			{"id":8,"subject":"Madplan","read":true}
		]}}`)
	case "messaging.getMessagesForThread":
		fmt.Fprint(w, `{"data":{"messages":[
			{"id":"m1","messageType":"Message","sendDateTime":"2026-08-28T10:00:00+02:00","sender":{"fullName":"Lærer Lone"},"text":{"html":"<p>Husk madpakke</p>"}},
			{"id":"m2","messageType":"ThreadCreated"},
			{"id":"m3","messageType":"Message","sender":{"fullName":"Pædagog Per"},"text":{"html":""}}
		]}}`)
	case "calendar.getEventsByProfileIdsAndResourceIds":
		body, _ := io.ReadAll(r.Body)
		ps.mu.Lock()
		ps.calendarBody = string(body)
		ps.mu.Unlock()
		fmt.Fprint(w, `{"data":[{
			"id":501,
			"title":"Matematik",
			"startDateTime":"2026-09-01T08:00:00+02:00",
			"endDateTime":"2026-09-01T08:45:00+02:00",
			"belongsToProfiles":[1001],
			"lesson":{
				"lessonStatus":"SUBSTITUTE",
				"primaryResource":{"name":"Lokale 2B"},
				"participants":[
					{"participantRole":"primaryTeacher","teacherName":"LK"},
					{"participantRole":"substituteTeacher","teacherName":"VK"}
				]}}]}`)
	case "presence.getDailyOverview":
		fmt.Fprint(w, `{"data":[{"id":61,"status":3,"location":"Legeplads","checkInTime":"07:45:00","exitWith":"Mor"}]}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (ps *portalServer) newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Options{
		AccessToken: "token-1",
		Cookies:     map[string]string{"Csrfp-Token": "csrf-1", "PHPSESSID": "sess-1"},
		APIBase:     ps.srv.URL + "/api/v",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (ps *portalServer) auth(method string) []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.authByMethod[method]...)
}

func TestInitDiscoversAPIVersion(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got, want := c.APIURL(), ps.srv.URL+"/api/v23"; got != want {
		t.Fatalf("APIURL = %q, want %q", got, want)
	}
	for _, auth := range ps.auth("profiles.getProfilesByLogin") {
		if auth != "Bearer token-1" {
			t.Fatalf("bootstrap call sent Authorization %q", auth)
		}
	}
	roleAuth := ps.auth("profiles.getProfileContext")
	if len(roleAuth) != 1 || roleAuth[0] != "Bearer token-1" {
		t.Fatalf("guardian role call auth = %v", roleAuth)
	}
}

func TestAccessTokenDroppedAfterInit(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	profile, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	calls := ps.auth("profiles.getProfilesByLogin")
	if last := calls[len(calls)-1]; last != "" {
		t.Fatalf("post-init call still sent Authorization %q", last)
	}

	if profile.ProfileID != 42 || profile.DisplayName != "Test Forælder" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.Children) != 2 || profile.Children[0].Name != "Alma" || profile.Children[0].ID != 1001 {
		t.Fatalf("unexpected children: %+v", profile.Children)
	}
	wantIDs := []int64{900, 1001, 1002}
	if len(profile.InstitutionProfileIDs) != len(wantIDs) {
		t.Fatalf("institution profile IDs = %v, want %v", profile.InstitutionProfileIDs, wantIDs)
	}
	for i, id := range wantIDs {
		if profile.InstitutionProfileIDs[i] != id {
			t.Fatalf("institution profile IDs = %v, want %v", profile.InstitutionProfileIDs, wantIDs)
		}
	}
}

func TestCalendarEventsSendCSRFHeader(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	events, err := c.CalendarEvents(context.Background(), []int64{1001, 1002}, start, start.AddDate(0, 0, 6))
	if err != nil {
		t.Fatalf("CalendarEvents: %v", err)
	}

	ps.mu.Lock()
	csrf := ps.csrfByMethod["calendar.getEventsByProfileIdsAndResourceIds"]
	body := ps.calendarBody
	ps.mu.Unlock()
	if csrf != "csrf-1" {
		t.Fatalf("csrfp-token header = %q, want csrf-1", csrf)
	}
	if got := gjson.Get(body, "instProfileIds").Raw; got != "[1001,1002]" {
		t.Fatalf("instProfileIds = %s", got)
	}
	if got := gjson.Get(body, "start").String(); got != "2026-09-01 00:00:00.0000+0200" {
		t.Fatalf("start = %q", got)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.Title != "Matematik" || ev.TeacherName != "LK" || !ev.HasSubstitute || ev.SubstituteName != "VK" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Location != "Lokale 2B" || ev.BelongsTo != 1001 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Start.IsZero() || ev.End.Sub(ev.Start) != 45*time.Minute {
		t.Fatalf("unexpected event times: %v .. %v", ev.Start, ev.End)
	}
}

func TestMessagesSkipSystemEntries(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	messages, err := c.MessagesForThread(context.Background(), 7, 5)
	if err != nil {
		t.Fatalf("MessagesForThread: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].ID != "m1" || messages[0].ContentHTML != "<p>Husk madpakke</p>" || messages[0].SenderName != "Lærer Lone" {
		t.Fatalf("unexpected message: %+v", messages[0])
	}
	if messages[1].ID != "m3" {
		t.Fatalf("system entry not skipped: %+v", messages[1])
	}
}

func TestMessageThreads(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	threads, err := c.MessageThreads(context.Background())
	if err != nil {
		t.Fatalf("MessageThreads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("got %d threads", len(threads))
	}
	if threads[0].ID != 7 || threads[0].Subject != "Lejrskole" || !threads[0].Unread {
		t.Fatalf("unexpected thread: %+v", threads[0])
	}
	if threads[1].Unread {
		t.Fatalf("read thread reported unread: %+v", threads[1])
	}
}

func TestDailyOverview(t *testing.T) {
	t.Parallel()
	ps := newPortalServer(t)
	c := ps.newClient(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	overview, err := c.DailyOverview(context.Background(), 1001)
	if err != nil {
		t.Fatalf("DailyOverview: %v", err)
	}
	if overview.ID != 61 || overview.Status != 3 || overview.Location != "Legeplads" {
		t.Fatalf("unexpected overview: %+v", overview)
	}
	if overview.CheckInTime != "07:45:00" || overview.ExitWith != "Mor" {
		t.Fatalf("unexpected overview: %+v", overview)
	}
}

func TestInitFailsOnServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{AccessToken: "token-1", APIBase: srv.URL + "/api/v"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Init(context.Background()); err == nil {
		t.Fatal("expected Init to fail on HTTP 500")
	}
}
