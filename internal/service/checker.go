// Package service содержит движок опроса LMS и сервисы вокруг него.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lmscenter/internal/infrastructure/metrics"
	"lmscenter/internal/model"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// State состояние движка опроса
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StatePolling       State = "polling"
	// StateCheckingNow сообщается, пока в состоянии Polling идет цикл проверки
	StateCheckingNow State = "checking"
	StateFailed      State = "failed"
)

// NotificationTitle заголовок уведомления о новом задании
const NotificationTitle = "New Assignment"

// ClientFactory создает клиент LMS по настройкам
type ClientFactory func(cfg model.LMSConfig) (model.LMSClient, error)

// Status текущее состояние движка для индикатора подключения
type Status struct {
	State       State         `json:"state"`
	LMSType     model.LMSType `json:"lmsType,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	LastCheck   *time.Time    `json:"lastCheck,omitempty"`
	NextCheck   *time.Time    `json:"nextCheck,omitempty"`
	Checking    bool          `json:"checking"`
	Assignments int           `json:"assignments"`
}

// CheckerOption настраивает Checker
type CheckerOption func(*Checker)

// WithIntervalUnit задает единицу интервала опроса (по умолчанию минута)
func WithIntervalUnit(unit time.Duration) CheckerOption {
	return func(c *Checker) {
		c.intervalUnit = unit
	}
}

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		c.now = now
	}
}

// WithMetrics подключает метрики
func WithMetrics(m metrics.Interface) CheckerOption {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithAuth включает получение токена по логину и паролю при инициализации
func WithAuth(auth AuthServiceInterface) CheckerOption {
	return func(c *Checker) {
		c.auth = auth
	}
}

// WithCycleTimeout ограничивает длительность одного цикла по таймеру
func WithCycleTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		c.cycleTimeout = timeout
	}
}

// Checker периодически запрашивает задания и сообщает о новых.
// Снимок заданий принадлежит только Checker и меняется только внутри цикла или перезапуска.
type Checker struct {
	settings SettingsProvider
	factory  ClientFactory
	notifier model.Notifier
	auth     AuthServiceInterface
	metrics  metrics.Interface
	logger   *zap.Logger

	intervalUnit time.Duration
	cycleTimeout time.Duration
	now          func() time.Time

	// guard одноместный семафор: не больше одного цикла одновременно
	guard     chan struct{}
	checking  atomic.Bool
	restartMu sync.Mutex

	mu        sync.RWMutex
	client    model.LMSClient
	cfg       model.LMSConfig
	applied   model.LMSConfig
	state     State
	lastErr   string
	lastCheck time.Time
	snapshot  map[string]model.Assignment
	cron      *cron.Cron
	entryID   cron.EntryID

	hooksMu    sync.RWMutex
	onSnapshot []func([]model.Assignment)
	onNew      []func([]model.Assignment)

	ctx    context.Context
	cancel context.CancelFunc
}

// Убеждаемся, что Checker реализует CheckerInterface
var _ CheckerInterface = (*Checker)(nil)

// NewChecker создает движок опроса
func NewChecker(settings SettingsProvider, factory ClientFactory, notifier model.Notifier, logger *zap.Logger, opts ...CheckerOption) *Checker {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Checker{
		settings:     settings,
		factory:      factory,
		notifier:     notifier,
		logger:       logger,
		intervalUnit: time.Minute,
		cycleTimeout: 10 * time.Minute,
		now:          time.Now,
		guard:        make(chan struct{}, 1),
		state:        StateUninitialized,
		snapshot:     make(map[string]model.Assignment),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnSnapshot регистрирует обработчик обновления снимка (каждый успешный цикл)
func (c *Checker) OnSnapshot(fn func([]model.Assignment)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onSnapshot = append(c.onSnapshot, fn)
}

// OnNewAssignments регистрирует обработчик новых заданий (только при наличии новых)
func (c *Checker) OnNewAssignments(fn func([]model.Assignment)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onNew = append(c.onNew, fn)
}

// Start инициализирует движок. Неполные настройки не являются ошибкой.
func (c *Checker) Start(ctx context.Context) error {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	return c.initialize(ctx)
}

// Stop останавливает таймер и дожидается завершения текущего цикла
func (c *Checker) Stop() {
	c.logger.Info("Stopping checker")
	c.cancel()
	c.stopTimer()
	c.logger.Info("Checker stopped")
}

// Restart останавливает таймер, сбрасывает клиент и снимок и инициализирует движок заново.
// Ждет завершения идущего цикла.
func (c *Checker) Restart(ctx context.Context) error {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.logger.Info("Restarting checker")
	c.stopTimer()

	select {
	case c.guard <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to restart checker: %w", ctx.Err())
	}

	c.mu.Lock()
	c.client = nil
	c.snapshot = make(map[string]model.Assignment)
	c.lastErr = ""
	c.lastCheck = time.Time{}
	c.mu.Unlock()
	c.setState(StateUninitialized)

	<-c.guard

	return c.initialize(ctx)
}

// initialize читает настройки, проверяет подключение и переходит в Polling
func (c *Checker) initialize(ctx context.Context) error {
	cfg := c.settings.GetSettings(ctx)
	c.mu.Lock()
	c.applied = cfg
	c.mu.Unlock()

	if !c.settings.IsConfigured(ctx) {
		c.logger.Info("LMS settings are incomplete, checker stays idle")
		c.setState(StateUninitialized)
		return nil
	}

	c.setState(StateConnecting)
	c.logger.Info("Connecting to LMS",
		zap.String("lms", cfg.LMSType.String()),
		zap.String("url", cfg.LMSURL))

	if cfg.UseCredentialLogin && cfg.APIToken == "" {
		token, err := c.login(ctx, cfg)
		if err != nil {
			return c.fail(err)
		}
		cfg.APIToken = token
	}

	client, err := c.factory(cfg)
	if err != nil {
		return c.fail(fmt.Errorf("failed to create LMS client: %w", err))
	}

	if !client.TestConnection(ctx) {
		return c.fail(fmt.Errorf("failed to connect to %s", cfg.LMSType.DisplayName()))
	}

	c.mu.Lock()
	c.client = client
	c.cfg = cfg
	c.lastErr = ""
	c.mu.Unlock()
	c.setState(StatePolling)

	c.logger.Info("Connected to LMS, polling started",
		zap.String("lms", cfg.LMSType.String()),
		zap.Int("interval_minutes", cfg.CheckInterval))

	c.runCycle(ctx, "initial")
	c.startTimer(cfg)

	return nil
}

// login получает токен по логину и паролю
func (c *Checker) login(ctx context.Context, cfg model.LMSConfig) (string, error) {
	if c.auth == nil {
		return "", errors.New("credential login requested but no auth service configured")
	}

	result, err := c.auth.Login(ctx, Credentials{
		LMSType:  cfg.LMSType,
		URL:      cfg.LMSURL,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to log in: %w", err)
	}
	return result.AccessToken, nil
}

// fail переводит движок в Failed. Автоматических повторов нет.
func (c *Checker) fail(err error) error {
	c.mu.Lock()
	c.client = nil
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.setState(StateFailed)

	c.logger.Error("Checker failed to initialize", zap.Error(err))
	return err
}

// startTimer планирует повторяющиеся циклы
func (c *Checker) startTimer(cfg model.LMSConfig) {
	interval := time.Duration(cfg.CheckInterval) * c.intervalUnit
	if cfg.CheckInterval <= 0 {
		interval = model.DefaultCheckInterval * c.intervalUnit
	}

	adapter := cronLogger{logger: c.logger.Sugar()}
	scheduler := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	entryID := scheduler.Schedule(cron.Every(interval), cron.FuncJob(c.tick))
	scheduler.Start()

	c.mu.Lock()
	c.cron = scheduler
	c.entryID = entryID
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetNextCheck(scheduler.Entry(entryID).Next)
	}

	c.logger.Info("Check timer scheduled", zap.Duration("interval", interval))
}

// stopTimer останавливает таймер и ждет завершения запущенного им цикла
func (c *Checker) stopTimer() {
	c.mu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.entryID = 0
	c.mu.Unlock()

	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// tick выполняется по таймеру
func (c *Checker) tick() {
	ctx, cancel := context.WithTimeout(c.ctx, c.cycleTimeout)
	defer cancel()

	c.runCycle(ctx, "timer")

	if c.metrics != nil {
		if next := c.nextCheck(); next != nil {
			c.metrics.SetNextCheck(*next)
		}
	}
}

// CheckNow выполняет один цикл вне расписания.
// Возвращает false, если цикл уже идет или клиент LMS не подключен.
func (c *Checker) CheckNow(ctx context.Context) bool {
	return c.runCycle(ctx, "manual")
}

// runCycle захватывает семафор без ожидания и выполняет цикл
func (c *Checker) runCycle(ctx context.Context, trigger string) bool {
	if c.currentClient() == nil {
		c.logger.Debug("No LMS client, skipping check", zap.String("trigger", trigger))
		return false
	}

	select {
	case c.guard <- struct{}{}:
	default:
		c.logger.Debug("Check already in progress, skipping", zap.String("trigger", trigger))
		if c.metrics != nil {
			c.metrics.RecordSkippedCycle()
		}
		return false
	}
	defer func() { <-c.guard }()

	c.checking.Store(true)
	c.reportState()
	defer func() {
		c.checking.Store(false)
		c.reportState()
	}()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in check cycle", zap.Any("panic", r), zap.String("trigger", trigger))
		}
	}()

	c.cycle(ctx, trigger)
	return true
}

// cycle запрашивает задания, сравнивает со снимком и заменяет его целиком
func (c *Checker) cycle(ctx context.Context, trigger string) {
	c.mu.RLock()
	client := c.client
	cfg := c.cfg
	c.mu.RUnlock()

	if client == nil {
		return
	}

	start := time.Now()
	assignments, err := client.GetAssignments(ctx)
	if c.metrics != nil {
		c.metrics.RecordCycle(time.Since(start), err)
	}

	if err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.logger.Error("Failed to check assignments",
			zap.String("trigger", trigger),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	var fresh []model.Assignment
	if len(c.snapshot) > 0 {
		for _, a := range assignments {
			if _, known := c.snapshot[a.ID]; !known {
				fresh = append(fresh, a)
			}
		}
	}
	snapshot := make(map[string]model.Assignment, len(assignments))
	for _, a := range assignments {
		snapshot[a.ID] = a
	}
	c.snapshot = snapshot
	c.lastCheck = c.now()
	c.lastErr = ""
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetAssignments(len(snapshot))
		c.metrics.RecordNewAssignments(len(fresh))
	}

	c.logger.Info("Assignments checked",
		zap.String("trigger", trigger),
		zap.Int("total", len(assignments)),
		zap.Int("new", len(fresh)),
		zap.Duration("duration", time.Since(start)))

	c.emit(c.snapshotHooks(), copyAssignments(assignments))

	if len(fresh) == 0 {
		return
	}

	for _, a := range fresh {
		c.notify(a, cfg)
	}
	c.emit(c.newHooks(), copyAssignments(fresh))
}

// notify отправляет уведомление о новом задании
func (c *Checker) notify(a model.Assignment, cfg model.LMSConfig) {
	if c.notifier == nil {
		return
	}

	now := c.now()
	c.notifier.Show(model.Notification{
		ID:           uuid.NewString(),
		Title:        NotificationTitle,
		Body:         NotificationBody(a, now),
		Silent:       !cfg.SoundEnabled,
		Urgency:      model.UrgencyCritical,
		AssignmentID: a.ID,
		CreatedAt:    now,
	})
}

func (c *Checker) snapshotHooks() []func([]model.Assignment) {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return append([]func([]model.Assignment){}, c.onSnapshot...)
}

func (c *Checker) newHooks() []func([]model.Assignment) {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return append([]func([]model.Assignment){}, c.onNew...)
}

// emit вызывает обработчики. Паника одного не мешает остальным.
func (c *Checker) emit(hooks []func([]model.Assignment), assignments []model.Assignment) {
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Panic in checker hook", zap.Any("panic", r))
				}
			}()
			hook(assignments)
		}()
	}
}

// Status возвращает состояние для индикатора подключения
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		State:       c.state,
		LMSType:     c.cfg.LMSType,
		LastError:   c.lastErr,
		Checking:    c.checking.Load(),
		Assignments: len(c.snapshot),
	}
	if status.Checking && c.state == StatePolling {
		status.State = StateCheckingNow
	}
	if !c.lastCheck.IsZero() {
		last := c.lastCheck
		status.LastCheck = &last
	}
	if c.cron != nil {
		if next := c.cron.Entry(c.entryID).Next; !next.IsZero() {
			status.NextCheck = &next
		}
	}
	return status
}

func (c *Checker) nextCheck() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cron == nil {
		return nil
	}
	next := c.cron.Entry(c.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// Snapshot возвращает копию последнего успешного снимка, отсортированную по дедлайну
func (c *Checker) Snapshot() []model.Assignment {
	c.mu.RLock()
	result := make([]model.Assignment, 0, len(c.snapshot))
	for _, a := range c.snapshot {
		result = append(result, a)
	}
	c.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].DueDate.Before(result[j].DueDate)
	})
	return result
}

// AppliedSettings возвращает настройки в том виде, в каком они были прочитаны
// при последней инициализации
func (c *Checker) AppliedSettings() model.LMSConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.applied
}

func (c *Checker) currentClient() model.LMSClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// GetAssignments запрашивает задания напрямую, минуя снимок
func (c *Checker) GetAssignments(ctx context.Context) []model.Assignment {
	client := c.currentClient()
	if client == nil {
		return []model.Assignment{}
	}

	assignments, err := client.GetAssignments(ctx)
	if err != nil {
		c.logger.Warn("Failed to fetch assignments", zap.Error(err))
		return []model.Assignment{}
	}
	return assignments
}

// GetCourses запрашивает курсы напрямую
func (c *Checker) GetCourses(ctx context.Context) []model.Course {
	client := c.currentClient()
	if client == nil {
		return []model.Course{}
	}

	courses, err := client.GetCourses(ctx)
	if err != nil {
		c.logger.Warn("Failed to fetch courses", zap.Error(err))
		return []model.Course{}
	}
	return courses
}

// GetLectures запрашивает материалы курсов напрямую
func (c *Checker) GetLectures(ctx context.Context) []model.Lecture {
	client := c.currentClient()
	if client == nil {
		return []model.Lecture{}
	}

	lectures, err := client.GetLectures(ctx)
	if err != nil {
		c.logger.Warn("Failed to fetch lectures", zap.Error(err))
		return []model.Lecture{}
	}
	return lectures
}

// Submit отправляет решение задания. Повторов нет.
func (c *Checker) Submit(ctx context.Context, data model.SubmissionData) model.SubmissionResult {
	if data.AssignmentID == "" {
		return model.SubmissionResult{Error: "assignment id is required", Phase: model.PhaseSubmit}
	}

	c.mu.RLock()
	client := c.client
	lmsType := c.cfg.LMSType
	c.mu.RUnlock()

	if client == nil {
		return model.SubmissionResult{Error: model.ErrNoClient.Error()}
	}

	err := client.SubmitAssignment(ctx, data)
	if c.metrics != nil {
		c.metrics.RecordSubmission(lmsType.String(), err)
	}
	if err != nil {
		c.logger.Error("Assignment submission failed",
			zap.String("assignment_id", data.AssignmentID),
			zap.Error(err))
	} else {
		c.logger.Info("Assignment submission completed", zap.String("assignment_id", data.AssignmentID))
	}
	return model.ResultFromError(err)
}

// setState меняет состояние и обновляет метрики
func (c *Checker) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.reportState()
}

func (c *Checker) reportState() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetState(string(c.Status().State))
}

func copyAssignments(src []model.Assignment) []model.Assignment {
	dst := make([]model.Assignment, len(src))
	copy(dst, src)
	return dst
}

// cronLogger передает сообщения cron в zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

var _ cron.Logger = cronLogger{}

// Info сообщения планировщика идут на уровне debug
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
