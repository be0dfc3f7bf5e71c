package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
)

// Publisher receives every detected breach once.
type Publisher interface {
	Publish(ctx context.Context, alert alarms.Alert)
}

// MultiPublisher dispatches alerts to multiple publishers. A panicking
// publisher is logged and the remaining ones still run.
type MultiPublisher struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewMultiPublisher constructs a MultiPublisher, skipping nil entries.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{logger: zap.NewNop()}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// WithLogger sets the logger used for publisher panics.
func (m *MultiPublisher) WithLogger(logger *zap.Logger) *MultiPublisher {
	if m != nil && logger != nil {
		m.logger = logger
	}
	return m
}

// Publish forwards alerts to all publishers.
func (m *MultiPublisher) Publish(ctx context.Context, alert alarms.Alert) {
	if m == nil {
		return
	}
	for _, publisher := range m.publishers {
		m.publishOne(ctx, publisher, alert)
	}
}

func (m *MultiPublisher) publishOne(ctx context.Context, publisher Publisher, alert alarms.Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("alert publisher panicked",
				zap.String("alert_id", alert.ID),
				zap.String("device_id", alert.DeviceID),
				zap.Any("panic", rec),
			)
		}
	}()
	publisher.Publish(ctx, alert)
}

// ChannelPublisher renders alerts and sends them through a Channel.
type ChannelPublisher struct {
	channel  Channel
	template *Template
	logger   *zap.Logger
}

// NewChannelPublisher constructs a ChannelPublisher. A nil template uses DefaultTemplate.
func NewChannelPublisher(channel Channel, template *Template, logger *zap.Logger) (*ChannelPublisher, error) {
	if channel == nil {
		return nil, errors.New("alert publisher: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelPublisher{channel: channel, template: template, logger: logger}, nil
}

// Publish implements Publisher. Failures are logged.
func (p *ChannelPublisher) Publish(ctx context.Context, alert alarms.Alert) {
	if p == nil {
		return
	}
	content, err := p.template.Render(templateData(TemperatureAlert{
		DeviceID:   alert.DeviceID,
		DeviceName: alert.DeviceName,
		Key:        alert.Key,
		Measured:   alert.Measured,
		Threshold:  alert.Threshold,
		When:       alert.When,
	}))
	if err != nil {
		p.logger.Warn("render alert failed", zap.String("device_id", alert.DeviceID), zap.Error(err))
		return
	}
	if err := p.channel.Send(ctx, content); err != nil {
		p.logger.Warn("publish alert failed", zap.String("device_id", alert.DeviceID), zap.Error(err))
	}
}

// AlertStore persists alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert alarms.Alert) error
}

// StorePublisher records every alert in an AlertStore.
type StorePublisher struct {
	store  AlertStore
	logger *zap.Logger
}

// NewStorePublisher constructs a StorePublisher.
func NewStorePublisher(store AlertStore, logger *zap.Logger) (*StorePublisher, error) {
	if store == nil {
		return nil, errors.New("alert publisher: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorePublisher{store: store, logger: logger}, nil
}

// Publish implements Publisher. Failures are logged.
func (p *StorePublisher) Publish(ctx context.Context, alert alarms.Alert) {
	if p == nil {
		return
	}
	if err := p.store.Insert(ctx, alert); err != nil {
		p.logger.Warn("record alert failed", zap.String("alert_id", alert.ID), zap.String("device_id", alert.DeviceID), zap.Error(err))
	}
}
