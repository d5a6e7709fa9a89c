package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lmscenter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeLMS клиент, отдающий заранее заданные ответы по очереди
type fakeLMS struct {
	mu        sync.Mutex
	connected bool
	responses [][]model.Assignment
	errs      []error
	calls     int
	// block, если задан, задерживает вызов с номером blockOn до закрытия канала
	block   chan struct{}
	blockOn int
	entered chan struct{}

	submitErr error
	submitted []model.SubmissionData
}

var _ model.LMSClient = (*fakeLMS)(nil)

func (f *fakeLMS) TestConnection(ctx context.Context) bool {
	return f.connected
}

func (f *fakeLMS) GetCourses(ctx context.Context) ([]model.Course, error) {
	return []model.Course{{ID: "1", Name: "History"}}, nil
}

func (f *fakeLMS) GetAssignments(ctx context.Context) ([]model.Assignment, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block := f.block
	f.mu.Unlock()

	if block != nil && n == f.blockOn {
		close(f.entered)
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.responses) == 0 {
		return []model.Assignment{}, nil
	}
	i := n - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return []model.Assignment{}, f.errs[i]
	}
	return f.responses[i], nil
}

func (f *fakeLMS) GetLectures(ctx context.Context) ([]model.Lecture, error) {
	return nil, errors.New("lectures unavailable")
}

func (f *fakeLMS) SubmitAssignment(ctx context.Context, data model.SubmissionData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, data)
	return f.submitErr
}

func (f *fakeLMS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSettings struct {
	mu  sync.Mutex
	cfg model.LMSConfig
}

func (s *fakeSettings) GetSettings(ctx context.Context) model.LMSConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *fakeSettings) IsConfigured(ctx context.Context) bool {
	return s.GetSettings(ctx).IsComplete()
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []model.Notification
}

func (n *fakeNotifier) Show(notification model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification)
}

func (n *fakeNotifier) all() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Notification(nil), n.shown...)
}

type fakeAuth struct {
	token string
	err   error
	got   Credentials
}

func (a *fakeAuth) Login(ctx context.Context, creds Credentials) (*TokenResult, error) {
	a.got = creds
	if a.err != nil {
		return nil, a.err
	}
	return &TokenResult{AccessToken: a.token}, nil
}

func (a *fakeAuth) RefreshToken(ctx context.Context, lmsType model.LMSType, siteURL, refreshToken string) (*TokenResult, error) {
	return nil, model.ErrRefreshNotSupported
}

func tokenConfig() model.LMSConfig {
	cfg := model.DefaultLMSConfig()
	cfg.LMSURL = "https://canvas.test"
	cfg.UseCredentialLogin = false
	cfg.APIToken = "token"
	return cfg
}

func assignment(id string, due time.Duration) model.Assignment {
	return model.Assignment{
		ID:         id,
		Name:       "Assignment " + id,
		DueDate:    testNow.Add(due),
		CourseID:   "1",
		CourseName: "History",
	}
}

type checkerFixture struct {
	checker  *Checker
	client   *fakeLMS
	settings *fakeSettings
	notifier *fakeNotifier
	created  []model.LMSConfig
}

func newFixture(t *testing.T, cfg model.LMSConfig, client *fakeLMS, opts ...CheckerOption) *checkerFixture {
	t.Helper()

	f := &checkerFixture{
		client:   client,
		settings: &fakeSettings{cfg: cfg},
		notifier: &fakeNotifier{},
	}
	factory := func(cfg model.LMSConfig) (model.LMSClient, error) {
		f.created = append(f.created, cfg)
		return f.client, nil
	}

	opts = append([]CheckerOption{WithClock(func() time.Time { return testNow })}, opts...)
	f.checker = NewChecker(f.settings, factory, f.notifier, zap.NewNop(), opts...)
	t.Cleanup(f.checker.Stop)
	return f
}

func TestChecker_IncompleteSettingsStayUninitialized(t *testing.T) {
	cfg := model.DefaultLMSConfig()
	client := &fakeLMS{connected: true}
	f := newFixture(t, cfg, client)

	require.NoError(t, f.checker.Start(context.Background()))

	status := f.checker.Status()
	assert.Equal(t, StateUninitialized, status.State)
	assert.Empty(t, status.LastError)
	assert.Empty(t, f.created)

	ctx := context.Background()
	assert.NotNil(t, f.checker.GetAssignments(ctx))
	assert.Empty(t, f.checker.GetAssignments(ctx))
	assert.Empty(t, f.checker.GetCourses(ctx))
	assert.Empty(t, f.checker.GetLectures(ctx))

	result := f.checker.Submit(ctx, model.SubmissionData{AssignmentID: "1"})
	assert.False(t, result.Success)
	assert.Equal(t, "LMS client not available", result.Error)

	assert.False(t, f.checker.CheckNow(ctx), "check without a client must not report started")
	assert.Equal(t, 0, client.callCount())
}

func TestChecker_ConnectionFailure(t *testing.T) {
	client := &fakeLMS{connected: false}
	f := newFixture(t, tokenConfig(), client)

	err := f.checker.Start(context.Background())
	require.Error(t, err)

	status := f.checker.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "failed to connect to Canvas")
	assert.Nil(t, status.NextCheck)
	assert.Equal(t, 0, client.callCount())
	assert.Empty(t, f.checker.GetCourses(context.Background()))

	assert.False(t, f.checker.CheckNow(context.Background()))
	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, StateFailed, f.checker.Status().State)
}

func TestChecker_FactoryFailure(t *testing.T) {
	settings := &fakeSettings{cfg: tokenConfig()}
	factory := func(model.LMSConfig) (model.LMSClient, error) {
		return nil, model.ErrUnsupportedLMS
	}
	checker := NewChecker(settings, factory, &fakeNotifier{}, zap.NewNop())
	t.Cleanup(checker.Stop)

	err := checker.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedLMS))
	assert.Equal(t, StateFailed, checker.Status().State)
}

func TestChecker_FirstFetchDoesNotNotify(t *testing.T) {
	current := []model.Assignment{assignment("A1", 48*time.Hour), assignment("A2", 72*time.Hour)}
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{current}}
	f := newFixture(t, tokenConfig(), client)

	var snapshots, fresh int
	f.checker.OnSnapshot(func([]model.Assignment) { snapshots++ })
	f.checker.OnNewAssignments(func([]model.Assignment) { fresh++ })

	require.NoError(t, f.checker.Start(context.Background()))

	assert.Equal(t, StatePolling, f.checker.Status().State)
	assert.Equal(t, 1, client.callCount())
	assert.Empty(t, f.notifier.all())
	assert.Equal(t, current, f.checker.Snapshot())
	assert.Equal(t, 1, snapshots)
	assert.Equal(t, 0, fresh)
}

func TestChecker_DiffIsByID(t *testing.T) {
	changed := assignment("A2", 72*time.Hour)
	changed.Name = "Renamed"

	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{assignment("A1", 48*time.Hour), assignment("A2", 72*time.Hour)},
		{changed, assignment("A3", 96*time.Hour)},
	}}
	f := newFixture(t, tokenConfig(), client)

	var newBatches [][]model.Assignment
	f.checker.OnNewAssignments(func(a []model.Assignment) { newBatches = append(newBatches, a) })

	require.NoError(t, f.checker.Start(context.Background()))
	require.True(t, f.checker.CheckNow(context.Background()))

	shown := f.notifier.all()
	require.Len(t, shown, 1)
	assert.Equal(t, "A3", shown[0].AssignmentID)

	require.Len(t, newBatches, 1)
	require.Len(t, newBatches[0], 1)
	assert.Equal(t, "A3", newBatches[0][0].ID)

	snapshot := f.checker.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "Renamed", snapshot[0].Name)
	assert.Equal(t, "A3", snapshot[1].ID)
}

func TestChecker_NewAssignmentScenario(t *testing.T) {
	a1 := assignment("A1", 48*time.Hour)
	a2 := assignment("A2", 24*time.Hour)

	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{a1},
		{a2, a1},
	}}
	cfg := tokenConfig()
	cfg.CheckInterval = 15
	f := newFixture(t, cfg, client)

	require.NoError(t, f.checker.Start(context.Background()))
	require.True(t, f.checker.CheckNow(context.Background()))

	shown := f.notifier.all()
	require.Len(t, shown, 1)
	assert.Equal(t, NotificationTitle, shown[0].Title)
	assert.Equal(t, "Assignment A2\nDue: in 1 day\nCourse: History", shown[0].Body)
	assert.False(t, shown[0].Silent)
	assert.Equal(t, model.UrgencyCritical, shown[0].Urgency)
	assert.NotEmpty(t, shown[0].ID)

	assert.Len(t, f.checker.Snapshot(), 2)
}

func TestChecker_SilentWhenSoundDisabled(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{assignment("A1", time.Hour)},
		{assignment("A1", time.Hour), assignment("A2", 5*time.Hour)},
	}}
	cfg := tokenConfig()
	cfg.SoundEnabled = false
	f := newFixture(t, cfg, client)

	require.NoError(t, f.checker.Start(context.Background()))
	f.checker.CheckNow(context.Background())

	shown := f.notifier.all()
	require.Len(t, shown, 1)
	assert.True(t, shown[0].Silent)
	assert.Contains(t, shown[0].Body, "Due: in 5 hours")
}

func TestChecker_FetchFailureKeepsSnapshot(t *testing.T) {
	client := &fakeLMS{
		connected: true,
		responses: [][]model.Assignment{{assignment("A1", time.Hour)}, nil, {assignment("A1", time.Hour), assignment("A2", time.Hour)}},
		errs:      []error{nil, errors.New("gateway timeout"), nil},
	}
	f := newFixture(t, tokenConfig(), client)

	require.NoError(t, f.checker.Start(context.Background()))
	require.True(t, f.checker.CheckNow(context.Background()))

	status := f.checker.Status()
	assert.Equal(t, StatePolling, status.State)
	assert.Contains(t, status.LastError, "gateway timeout")
	assert.Len(t, f.checker.Snapshot(), 1)

	require.True(t, f.checker.CheckNow(context.Background()))
	assert.Len(t, f.notifier.all(), 1)
	assert.Empty(t, f.checker.Status().LastError)
}

func TestChecker_CheckNowSkipsWhileCycleInFlight(t *testing.T) {
	client := &fakeLMS{
		connected: true,
		responses: [][]model.Assignment{{assignment("A1", time.Hour)}, {assignment("A1", time.Hour), assignment("A2", time.Hour)}},
		block:     make(chan struct{}),
		blockOn:   2,
		entered:   make(chan struct{}),
	}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	done := make(chan bool)
	go func() {
		done <- f.checker.CheckNow(context.Background())
	}()
	<-client.entered

	assert.Equal(t, StateCheckingNow, f.checker.Status().State)
	assert.True(t, f.checker.Status().Checking)

	// Второй вызов не выполняет запрос и не трогает снимок
	assert.False(t, f.checker.CheckNow(context.Background()))
	assert.Equal(t, 2, client.callCount())
	assert.Len(t, f.checker.Snapshot(), 1)

	close(client.block)
	assert.True(t, <-done)

	assert.Equal(t, 2, client.callCount())
	assert.Len(t, f.checker.Snapshot(), 2)
	assert.Len(t, f.notifier.all(), 1)
	assert.Equal(t, StatePolling, f.checker.Status().State)
}

func TestChecker_RestartClearsSnapshot(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{assignment("A1", time.Hour)},
		{assignment("B1", time.Hour), assignment("B2", time.Hour)},
	}}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	f.settings.mu.Lock()
	f.settings.cfg.LMSType = model.LMSMoodle
	f.settings.mu.Unlock()

	require.NoError(t, f.checker.Restart(context.Background()))

	// После перезапуска первый цикл снова считается базовым
	assert.Empty(t, f.notifier.all())
	assert.Len(t, f.checker.Snapshot(), 2)
	require.Len(t, f.created, 2)
	assert.Equal(t, model.LMSMoodle, f.created[1].LMSType)
	assert.Equal(t, model.LMSMoodle, f.checker.Status().LMSType)
}

func TestChecker_RestartIntoIncompleteSettings(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{{assignment("A1", time.Hour)}}}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	f.settings.mu.Lock()
	f.settings.cfg = model.DefaultLMSConfig()
	f.settings.mu.Unlock()

	require.NoError(t, f.checker.Restart(context.Background()))
	assert.Equal(t, StateUninitialized, f.checker.Status().State)
	assert.Empty(t, f.checker.Snapshot())
	assert.Empty(t, f.checker.GetAssignments(context.Background()))
}

func TestChecker_CredentialLogin(t *testing.T) {
	cfg := model.DefaultLMSConfig()
	cfg.LMSURL = "https://moodle.test"
	cfg.LMSType = model.LMSMoodle
	cfg.Username = "student"
	cfg.Password = "secret"

	auth := &fakeAuth{token: "issued"}
	client := &fakeLMS{connected: true}
	f := newFixture(t, cfg, client, WithAuth(auth))

	require.NoError(t, f.checker.Start(context.Background()))
	require.Len(t, f.created, 1)
	assert.Equal(t, "issued", f.created[0].APIToken)
	assert.Equal(t, "student", auth.got.Username)
	assert.Equal(t, model.LMSMoodle, auth.got.LMSType)
}

func TestChecker_CredentialLoginFailure(t *testing.T) {
	cfg := model.DefaultLMSConfig()
	cfg.LMSURL = "https://moodle.test"
	cfg.Username = "student"
	cfg.Password = "wrong"

	f := newFixture(t, cfg, &fakeLMS{connected: true}, WithAuth(&fakeAuth{err: errors.New("invalid_grant")}))

	require.Error(t, f.checker.Start(context.Background()))
	assert.Equal(t, StateFailed, f.checker.Status().State)
	assert.Contains(t, f.checker.Status().LastError, "invalid_grant")
	assert.Empty(t, f.created)
}

func TestChecker_TimerRunsCycles(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{{assignment("A1", time.Hour)}}}
	cfg := tokenConfig()
	cfg.CheckInterval = 1
	f := newFixture(t, cfg, client, WithIntervalUnit(time.Second))

	require.NoError(t, f.checker.Start(context.Background()))
	assert.NotNil(t, f.checker.Status().NextCheck)

	assert.Eventually(t, func() bool {
		return client.callCount() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	f.checker.Stop()
	calls := client.callCount()
	assert.Nil(t, f.checker.Status().NextCheck)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, client.callCount())
}

func TestChecker_Submit(t *testing.T) {
	client := &fakeLMS{connected: true, submitErr: model.NewUploadError("report.pdf", errors.New("quota exceeded"))}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	result := f.checker.Submit(context.Background(), model.SubmissionData{AssignmentID: "A1", CourseID: "1"})
	assert.False(t, result.Success)
	assert.Equal(t, model.PhaseUpload, result.Phase)
	assert.Equal(t, "report.pdf", result.File)
	assert.Contains(t, result.Error, "failed to upload report.pdf")

	client.mu.Lock()
	client.submitErr = nil
	client.mu.Unlock()

	result = f.checker.Submit(context.Background(), model.SubmissionData{AssignmentID: "A1", CourseID: "1"})
	assert.True(t, result.Success)

	result = f.checker.Submit(context.Background(), model.SubmissionData{})
	assert.False(t, result.Success)
	assert.Len(t, client.submitted, 2)
}

func TestChecker_AccessorErrorsReturnEmpty(t *testing.T) {
	client := &fakeLMS{connected: true}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	lectures := f.checker.GetLectures(context.Background())
	assert.NotNil(t, lectures)
	assert.Empty(t, lectures)
	assert.Len(t, f.checker.GetCourses(context.Background()), 1)
}

func TestChecker_HookPanicIsRecovered(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{{assignment("A1", time.Hour)}}}
	f := newFixture(t, tokenConfig(), client)

	called := false
	f.checker.OnSnapshot(func([]model.Assignment) { panic("boom") })
	f.checker.OnSnapshot(func([]model.Assignment) { called = true })

	require.NoError(t, f.checker.Start(context.Background()))
	assert.True(t, called)
	assert.Equal(t, StatePolling, f.checker.Status().State)
}

func TestFormatDue(t *testing.T) {
	tests := []struct {
		name string
		due  time.Duration
		want string
	}{
		{"days", 3*day + 2*time.Hour, "in 3 days"},
		{"one day", day, "in 1 day"},
		{"hours", 4*time.Hour + 10*time.Minute, "in 4 hours"},
		{"one hour", time.Hour, "in 1 hour"},
		{"minutes", 20 * time.Minute, "in less than an hour"},
		{"overdue days", -2*day - time.Hour, "overdue by 2 days"},
		{"overdue hours", -3 * time.Hour, "overdue by 3 hours"},
		{"just overdue", -time.Minute, "overdue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDue(testNow.Add(tt.due), testNow))
		})
	}
}

func TestSettingsWatcher_RestartsOnExternalChange(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{assignment("A1", time.Hour)},
		{assignment("B1", time.Hour)},
	}}
	f := newFixture(t, tokenConfig(), client)
	require.NoError(t, f.checker.Start(context.Background()))

	watcher := NewSettingsWatcher(f.settings, f.checker, time.Hour, zap.NewNop())

	// Настройки не менялись
	assert.False(t, watcher.CheckForChanges(context.Background()))

	f.settings.mu.Lock()
	f.settings.cfg.LMSURL = "https://other.test"
	f.settings.mu.Unlock()

	assert.True(t, watcher.CheckForChanges(context.Background()))
	assert.Equal(t, "https://other.test", f.checker.AppliedSettings().LMSURL)
	snapshot := f.checker.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "B1", snapshot[0].ID)

	// После перезапуска примененные настройки совпадают с текущими
	assert.False(t, watcher.CheckForChanges(context.Background()))
	assert.Empty(t, f.notifier.all())
}
