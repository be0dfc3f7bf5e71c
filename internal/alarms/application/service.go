package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
	"github.com/Dipeshbist/Yeti-Server/internal/alarms/notify"
	"github.com/Dipeshbist/Yeti-Server/internal/observability/metrics"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
	"github.com/Dipeshbist/Yeti-Server/internal/users"
)

// DefaultDiscoveryPageSize is the tenant device page size used by Start.
const DefaultDiscoveryPageSize = 100

// DeviceSource lists the tenant device roster.
type DeviceSource interface {
	TenantDevices(ctx context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error)
}

// Streams opens per-device sample streams.
type Streams interface {
	Listen(ctx context.Context, deviceID string, handler tbadapter.SampleHandler) error
}

// Recipients resolves who receives alerts for a customer.
type Recipients interface {
	ListActiveVerifiedByCustomer(ctx context.Context, customerID string) ([]users.User, error)
}

// DeviceNames resolves the display name of a device.
type DeviceNames interface {
	DisplayName(ctx context.Context, deviceID, platformName string) string
}

// Mailer delivers one alert to one recipient.
type Mailer interface {
	NotifyTemperatureAlert(ctx context.Context, alert notify.TemperatureAlert) error
}

// AlertPublisher receives each breach once, independent of recipients.
type AlertPublisher interface {
	Publish(ctx context.Context, alert alarms.Alert)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates streamed samples and fans alerts out to users.
type Service struct {
	devices    DeviceSource
	streams    Streams
	recipients Recipients
	mailer     Mailer
	names      DeviceNames
	publisher  AlertPublisher
	rule       alarms.Rule
	pageSize   int
	clock      Clock
	logger     *zap.Logger

	mu      sync.Mutex
	watched map[string]tbadapter.DeviceInfo
	wg      sync.WaitGroup
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithRule overrides the temperature rule.
func WithRule(rule alarms.Rule) ServiceOption {
	return func(s *Service) {
		s.rule = rule
	}
}

// WithDeviceNames resolves overlay display names.
func WithDeviceNames(names DeviceNames) ServiceOption {
	return func(s *Service) {
		s.names = names
	}
}

// WithPublisher assigns a breach publisher.
func WithPublisher(publisher AlertPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithPageSize overrides the discovery page size.
func WithPageSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alert service.
func NewService(devices DeviceSource, streams Streams, recipients Recipients, mailer Mailer, opts ...ServiceOption) (*Service, error) {
	if devices == nil {
		return nil, errors.New("alerts: nil device source")
	}
	if streams == nil {
		return nil, errors.New("alerts: nil streams")
	}
	if recipients == nil {
		return nil, errors.New("alerts: nil recipients")
	}
	if mailer == nil {
		return nil, errors.New("alerts: nil mailer")
	}
	service := &Service{
		devices:    devices,
		streams:    streams,
		recipients: recipients,
		mailer:     mailer,
		rule:       alarms.DefaultRule(),
		pageSize:   DefaultDiscoveryPageSize,
		clock:      systemClock{},
		logger:     zap.NewNop(),
		watched:    make(map[string]tbadapter.DeviceInfo),
	}
	for _, opt := range opts {
		opt(service)
	}
	if err := service.rule.Validate(); err != nil {
		return nil, err
	}
	return service, nil
}

// Start walks every tenant device page and subscribes each unseen device.
// Per-device subscription failures are logged and skipped. It returns the
// number of new subscriptions.
func (s *Service) Start(ctx context.Context) (int, error) {
	started := 0
	for page := 0; ; page++ {
		result, err := s.devices.TenantDevices(ctx, tbadapter.DeviceQuery{
			PageQuery: tbadapter.PageQuery{Page: page, PageSize: s.pageSize},
		})
		if err != nil {
			return started, fmt.Errorf("alerts: list tenant devices page %d: %w", page, err)
		}
		for _, device := range result.Data {
			if s.watch(ctx, device) {
				started++
			}
		}
		if !result.HasNext || len(result.Data) == 0 {
			break
		}
	}
	s.logger.Info("alert discovery finished", zap.Int("subscriptions", started))
	return started, nil
}

func (s *Service) watch(ctx context.Context, device tbadapter.DeviceInfo) bool {
	id := device.ID.ID
	if id == "" {
		return false
	}
	s.mu.Lock()
	if _, ok := s.watched[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.watched[id] = device
	s.mu.Unlock()

	if err := s.streams.Listen(ctx, id, s.onSample); err != nil {
		s.logger.Warn("device subscription failed", zap.String("device_id", id), zap.String("device_name", device.Name), zap.Error(err))
		return false
	}
	return true
}

// Watched returns the number of devices seen during discovery.
func (s *Service) Watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

// onSample is the stream handler. It never blocks the dispatch loop on I/O
// and never lets an error or panic escape.
func (s *Service) onSample(ctx context.Context, deviceID string, sample telemetry.Sample) {
	if _, breach := s.rule.Evaluate(sample, s.clock.Now()); !breach {
		return
	}
	s.mu.Lock()
	device, ok := s.watched[deviceID]
	s.mu.Unlock()
	if !ok {
		device = tbadapter.DeviceInfo{ID: tbadapter.EntityID{EntityType: "DEVICE", ID: deviceID}}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("alert handler panic",
					zap.String("device_id", deviceID),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		if err := s.HandleSample(ctx, device, sample); err != nil {
			s.logger.Warn("alert handling failed", zap.String("device_id", deviceID), zap.String("key", sample.Key), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight sample handlers finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// HandleSample notifies every active verified user of the device's customer
// when sample breaches the rule. Per-recipient failures are joined and never
// stop delivery to the others.
func (s *Service) HandleSample(ctx context.Context, device tbadapter.DeviceInfo, sample telemetry.Sample) error {
	measured, breach := s.rule.Evaluate(sample, s.clock.Now())
	if !breach {
		return nil
	}
	metrics.IncAlertBreach()

	deviceID := device.ID.ID
	customerID := device.CustomerRef()
	if customerID == "" {
		s.logger.Debug("breach on unassigned device", zap.String("device_id", deviceID), zap.String("key", sample.Key))
		return nil
	}

	name := device.Name
	if s.names != nil {
		name = s.names.DisplayName(ctx, deviceID, device.Name)
	}
	alert := alarms.Alert{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		DeviceName: name,
		CustomerID: customerID,
		Key:        sample.Key,
		Measured:   measured,
		Threshold:  s.rule.Threshold,
		TS:         sample.TS,
		When:       sample.Time(),
	}
	s.logger.Info("temperature breach",
		zap.String("device_id", deviceID),
		zap.String("customer_id", customerID),
		zap.String("key", sample.Key),
		zap.Float64("measured", measured),
	)
	published := s.publish(ctx, alert)
	defer func() { <-published }()

	recipients, err := s.recipients.ListActiveVerifiedByCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("alerts: list recipients for customer %s: %w", customerID, err)
	}
	return s.notifyAll(ctx, alert, recipients)
}

// publish runs the publisher beside recipient notification so a slow or
// panicking publisher never delays or drops mail. The returned channel is
// closed once publishing has finished.
func (s *Service) publish(ctx context.Context, alert alarms.Alert) <-chan struct{} {
	done := make(chan struct{})
	if s.publisher == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("alert publisher panicked",
					zap.String("alert_id", alert.ID),
					zap.String("device_id", alert.DeviceID),
					zap.Any("panic", rec),
				)
			}
		}()
		s.publisher.Publish(ctx, alert)
	}()
	return done
}

func (s *Service) notifyAll(ctx context.Context, alert alarms.Alert, recipients []users.User) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, user := range recipients {
		if !user.CanReceiveAlerts() {
			continue
		}
		wg.Add(1)
		go func(user users.User) {
			defer wg.Done()
			err := s.notifyOne(ctx, alert, user)
			metrics.IncAlertNotification(err)
			if err == nil {
				return
			}
			s.logger.Warn("alert notification failed",
				zap.String("device_id", alert.DeviceID),
				zap.String("email", user.Email),
				zap.Error(err),
			)
			mu.Lock()
			errs = append(errs, fmt.Errorf("notify %s: %w", user.Email, err))
			mu.Unlock()
		}(user)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Service) notifyOne(ctx context.Context, alert alarms.Alert, user users.User) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("alerts: notifier panic: %v", rec)
		}
	}()
	return s.mailer.NotifyTemperatureAlert(ctx, notify.TemperatureAlert{
		Email:      user.Email,
		DeviceID:   alert.DeviceID,
		DeviceName: alert.DeviceName,
		Key:        alert.Key,
		Measured:   alert.Measured,
		Threshold:  alert.Threshold,
		When:       alert.When,
	})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Rule returns the active alert rule.
func (s *Service) Rule() alarms.Rule {
	return s.rule
}
