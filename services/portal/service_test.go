package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gymassist-backend/lib/scrapers/clubos/calendar"
	"gymassist-backend/lib/telemetry"
	"gymassist-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

const loginPageHTML = `<html><body>
<form method="post" action="/action/Login">
	<input type="hidden" name="_sourcePage" value="abc123"/>
	<input type="hidden" name="__fp" value="fp-token"/>
	<input type="text" name="username"/>
	<input type="password" name="password"/>
</form></body></html>`

const bookedWeekHTML = `
<div class="cal-event">
	<input type="hidden" value='{"eventId": 555, "eventTypeId": 2, "userId": 77}'/>
	<div class="slot-info">
		<div>8:00 AM - 8:30 AM</div>
		<div class="black">Pat Doyle</div>
	</div>
</div>`

const openGridHTML = `
<table id="schedule">
	<tr class="calendar-head">
		<th>Time</th>
		<th><a title="Alex Mercer">A. Mercer</a></th>
	</tr>
	<tr><td>9:00 AM</td><td></td></tr>
	<tr><td>9:30 AM</td><td><div class="cal-event"></div></td></tr>
</table>`

// fakeGym emulates the portal closely enough to drive every service
// operation end to end: login, calendar rendering with week navigation,
// member search, popup form posts and the follow-up message flow.
type fakeGym struct {
	mux *http.ServeMux

	mu           sync.Mutex
	weekStart    time.Time
	calendarBody string
	popupForm    url.Values
	followUpForm url.Values
	rejectPopup  bool
	sessionDead  bool

	loginCount    atomic.Int64
	navigateCount atomic.Int64
	searchCount   atomic.Int64
	delegateCount atomic.Int64
}

func newFakeGym() *fakeGym {
	p := &fakeGym{
		mux:          http.NewServeMux(),
		weekStart:    time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		calendarBody: bookedWeekHTML,
	}

	p.mux.HandleFunc("GET /action/Login/view", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPageHTML)
	})

	p.mux.HandleFunc("POST /action/Login", func(w http.ResponseWriter, r *http.Request) {
		p.loginCount.Add(1)
		r.ParseForm()
		if r.PostForm.Get("username") != "jmayo" || r.PostForm.Get("password") != "hunter2" {
			fmt.Fprint(w, loginPageHTML)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "sess-1", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "loggedInUserId", Value: "187032782", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "apiV3AccessToken", Value: "portal-token-1", Path: "/"})
		http.Redirect(w, r, "/action/Dashboard/view", http.StatusFound)
	})

	p.mux.HandleFunc("GET /action/Dashboard/view", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		dead := p.sessionDead
		p.mu.Unlock()
		if dead {
			http.Redirect(w, r, "/action/Login/view", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/action/Logout">Logout</a></body></html>`)
	})

	p.mux.HandleFunc("GET /action/Calendar/view", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		weekStart := p.weekStart
		body := p.calendarBody
		p.mu.Unlock()
		fmt.Fprintf(w, `<html><body>
			<input type="hidden" name="calendarStartDate" value="%s"/>
			<input type="hidden" name="_sourcePage" value="cal-src"/>
			<input type="hidden" name="__fp" value="cal-fp"/>
			%s</body></html>`, weekStart.Format("01/02/2006"), body)
	})

	p.mux.HandleFunc("POST /ajax/calendar/navigate", func(w http.ResponseWriter, r *http.Request) {
		p.navigateCount.Add(1)
		r.ParseForm()
		days := 7
		if r.PostForm.Get("direction") == "previous" {
			days = -7
		}
		p.mu.Lock()
		p.weekStart = p.weekStart.AddDate(0, 0, days)
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	p.mux.HandleFunc("GET /ajax/members/search", func(w http.ResponseWriter, r *http.Request) {
		p.searchCount.Add(1)
		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `[{"id": 5001, "name": "Pat Doyle", "email": "pat@example.com"},
			{"id": 5002, "name": "Lee Finch"}]`)
	})

	popup := func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		p.mu.Lock()
		p.popupForm = r.PostForm
		reject := p.rejectPopup
		p.mu.Unlock()
		if reject {
			fmt.Fprint(w, "Something isn't right, please try again")
			return
		}
		fmt.Fprint(w, "saved")
	}
	p.mux.HandleFunc("POST /action/EventPopup/save", popup)
	p.mux.HandleFunc("POST /action/EventPopup/remove", popup)

	p.mux.HandleFunc("GET /action/Delegate/{id}/url=false", func(w http.ResponseWriter, r *http.Request) {
		p.delegateCount.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "delegatedUserId", Value: r.PathValue("id"), Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	p.mux.HandleFunc("GET /action/Login/refresh-api-v3-access-token", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "apiV3AccessToken", Value: "portal-token-2", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	p.mux.HandleFunc("POST /action/FollowUp/save", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		p.mu.Lock()
		p.followUpForm = r.PostForm
		p.mu.Unlock()
		if r.PostForm.Get("followUpLog.outcome") == "3" && r.PostForm.Get("textMessage") != "" {
			fmt.Fprint(w, "Pat Doyle has been texted")
			return
		}
		fmt.Fprint(w, "follow-up saved")
	})

	return p
}

func (p *fakeGym) setSessionDead(dead bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionDead = dead
}

func (p *fakeGym) setCalendarBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calendarBody = body
}

func (p *fakeGym) lastPopupForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popupForm
}

func (p *fakeGym) lastFollowUpForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.followUpForm
}

type staticCredentials struct {
	username string
	password string
}

func (c staticCredentials) Get(ctx context.Context, namespace string) (string, string, error) {
	return c.username, c.password, nil
}

// a date inside the fake's initially rendered week
var serviceFixtureDate = time.Date(2024, 3, 12, 10, 0, 0, 0, timezone.Location)

func setupPortalService(t *testing.T, gym *fakeGym) *Service {
	cleanup := telemetry.SetupForTesting("test:services/portal")
	t.Cleanup(cleanup)

	server := httptest.NewServer(gym.mux)
	t.Cleanup(server.Close)

	return NewService(staticCredentials{"jmayo", "hunter2"}, Options{
		BaseUrl:     server.URL,
		TrainerName: "Alex Mercer",
		TrainerId:   "77",
	})
}

func TestGetCalendarEvents(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)
	ctx := context.Background()

	events, err := service.GetCalendarEvents(ctx, serviceFixtureDate)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "555", events[0].Id)
	require.Equal(t, calendar.KindBooked, events[0].Kind)
	require.Equal(t, "Pat Doyle", events[0].Title)

	// second call reuses the cached session
	_, err = service.GetCalendarEvents(ctx, serviceFixtureDate)
	require.NoError(t, err)
	require.Equal(t, int64(1), gym.loginCount.Load())
	require.Equal(t, int64(0), gym.navigateCount.Load())

	stats := service.Stats()
	require.Len(t, stats.Sessions, 1)
	require.True(t, stats.Sessions[0].Authenticated)
}

func TestWeekNavigation(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)

	twoWeeksOut := serviceFixtureDate.AddDate(0, 0, 14)
	events, err := service.GetCalendarEvents(context.Background(), twoWeeksOut)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, int64(2), gym.navigateCount.Load())
}

func TestGetAvailableSlots(t *testing.T) {
	gym := newFakeGym()
	gym.setCalendarBody(openGridHTML)
	service := setupPortalService(t, gym)

	slots, err := service.GetAvailableSlots(context.Background(), serviceFixtureDate)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	day := timezone.StartOfDay(serviceFixtureDate)
	require.Equal(t, day.Add(9*time.Hour), slots[0].Start)
	require.Equal(t, calendar.SourceGrid, slots[0].Source)
	require.Equal(t, "77", slots[0].TrainerId)
}

func TestFindMember(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)
	ctx := context.Background()

	// close-but-inexact spelling still resolves
	member, err := service.FindMember(ctx, "Pat Doyl")
	require.NoError(t, err)
	require.Equal(t, "5001", member.Id)
	require.Equal(t, "Pat Doyle", member.Name)

	// resolved members are cached per query
	_, err = service.FindMember(ctx, "Pat Doyl")
	require.NoError(t, err)
	require.Equal(t, int64(1), gym.searchCount.Load())

	_, err = service.FindMember(ctx, "zzzz qqqq")
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestBookAppointment(t *testing.T) {
	gym := newFakeGym()
	gym.setCalendarBody(openGridHTML)
	service := setupPortalService(t, gym)

	day := timezone.StartOfDay(serviceFixtureDate)
	err := service.BookAppointment(context.Background(), BookingRequest{
		MemberName: "Pat Doyle",
		Start:      day.Add(9 * time.Hour),
	})
	require.NoError(t, err)

	form := gym.lastPopupForm()
	require.Equal(t, "5001", form.Get("calendarEvent.attendees[0].tfoUserId"))
	require.Equal(t, "2", form.Get("calendarEvent.eventType.id"))
	require.Equal(t, "9:00 AM", form.Get("calendarEvent.startTime"))
	require.Equal(t, "9:30 AM", form.Get("calendarEvent.endTime"))
	require.Equal(t, "77", form.Get("calendarEvent.userId"))
	require.Equal(t, "cal-src", form.Get("_sourcePage"))
	require.Equal(t, "cal-fp", form.Get("__fp"))
}

func TestBookAppointmentSlotTaken(t *testing.T) {
	gym := newFakeGym()
	gym.setCalendarBody(openGridHTML)
	service := setupPortalService(t, gym)

	day := timezone.StartOfDay(serviceFixtureDate)
	err := service.BookAppointment(context.Background(), BookingRequest{
		MemberName: "Pat Doyle",
		// 9:30 is occupied in the grid
		Start: day.Add(9*time.Hour + 30*time.Minute),
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCancelEvent(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)

	require.NoError(t, service.CancelEvent(context.Background(), "555"))

	form := gym.lastPopupForm()
	require.Equal(t, "555", form.Get("calendarEvent.id"))
	require.Equal(t, "555", form.Get("calendarEvent.repeatEvent.calendarEventId"))
	require.Equal(t, "cal-src", form.Get("_sourcePage"))
}

func TestCancelEventRejected(t *testing.T) {
	gym := newFakeGym()
	gym.rejectPopup = true
	service := setupPortalService(t, gym)

	err := service.CancelEvent(context.Background(), "555")
	require.ErrorIs(t, err, ErrCancelFailed)
}

func TestSendMessage(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)

	err := service.SendMessage(context.Background(), "Pat Doyle", "See you at 9!")
	require.NoError(t, err)

	// the session delegates to the recipient before messaging
	require.Equal(t, int64(1), gym.delegateCount.Load())

	form := gym.lastFollowUpForm()
	require.Equal(t, "3", form.Get("followUpLog.outcome"))
	require.Equal(t, "5001", form.Get("followUpLog.tfoUserId"))
	require.Equal(t, "See you at 9!", form.Get("textMessage"))
	require.Equal(t, "291", form.Get("followUpUser.clubId"))
	require.Equal(t, "3586", form.Get("followUpUser.clubLocationId"))
}

func TestSendMessageNoSuccessMarker(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)

	// the fake only emits the success marker for non-empty SMS bodies
	err := service.SendMessage(context.Background(), "Pat Doyle", "")
	require.ErrorIs(t, err, ErrMessageFailed)
}

func TestSendEmail(t *testing.T) {
	gym := newFakeGym()
	service := setupPortalService(t, gym)

	err := service.SendEmail(context.Background(), "Pat Doyle", "Schedule", "See you at 9!")
	require.NoError(t, err)

	form := gym.lastFollowUpForm()
	require.Equal(t, "2", form.Get("followUpLog.outcome"))
	require.Equal(t, "Schedule", form.Get("emailSubject"))
	require.Equal(t, "<p>See you at 9!</p>", form.Get("emailMessage"))
}
