package management

import (
	"context"
	"fmt"
	"sync"
	"time"

	"screensync/internal/aggregator"
	"screensync/internal/config"
	"screensync/internal/core"
	"screensync/internal/logging"
	"screensync/internal/provider"
	"screensync/pkg/types"
)

// RegisterSource returns the Modbus reader for a sensor source.
type RegisterSource func(src config.ModbusSourceConfig, timeout time.Duration) provider.RegisterReader

// Sources owns the telemetry providers and the aggregator they feed.
type Sources struct {
	Aggregator *aggregator.Aggregator

	poller *provider.Poller
	mqtt   []*provider.MQTTValue
	jobs   []string
	logger *logging.Logger
}

// NewSources builds a provider job for every enabled field. Permanent
// provider failures are published on hub.
func NewSources(cfg config.ProvidersConfig, hub *core.Hub, registers RegisterSource) (*Sources, error) {
	s := &Sources{logger: logging.GetLogger("sources")}

	fields := []struct {
		field aggregator.Field
		cfg   config.ProviderConfig
	}{
		{aggregator.FieldCPUTemp, cfg.CPUTemp},
		{aggregator.FieldGPUTemp, cfg.GPUTemp},
		{aggregator.FieldWeather, cfg.Weather},
		{aggregator.FieldLocation, cfg.Location},
		{aggregator.FieldDownloadRate, cfg.DownloadRate},
	}

	freshness := make(map[aggregator.Field]time.Duration, len(fields))
	for _, f := range fields {
		if f.cfg.Enabled {
			freshness[f.field] = f.cfg.Freshness.Std()
		}
	}
	s.Aggregator = aggregator.New(freshness)
	s.poller = provider.NewPoller(func(name string, err error) {
		hub.Publish(types.NewEvent(types.EventProviderFailed, name, "provider disabled").With("error", err.Error()))
	})

	for _, f := range fields {
		if !f.cfg.Enabled {
			continue
		}
		job, err := s.job(f.field, f.cfg, cfg.Weather, registers)
		if err != nil {
			s.stopMQTT()
			return nil, fmt.Errorf("providers.%s: %w", f.field, err)
		}
		s.poller.Add(job)
		s.jobs = append(s.jobs, job.Name())
	}
	return s, nil
}

// Jobs names the configured providers.
func (s *Sources) Jobs() []string {
	return s.jobs
}

func (s *Sources) job(field aggregator.Field, pc, weather config.ProviderConfig, registers RegisterSource) (*provider.Job, error) {
	jc := provider.JobConfig{Interval: pc.Interval.Std(), Timeout: pc.Timeout.Std()}

	switch field {
	case aggregator.FieldWeather:
		if pc.Source != "open-meteo" {
			return nil, fmt.Errorf("unknown weather source %q", pc.Source)
		}
		p := provider.NewOpenMeteo(pc.URL, s.locator(weather))
		return provider.NewJob[provider.Weather](p, jc, aggregator.Sink[provider.Weather](s.Aggregator, field)), nil

	case aggregator.FieldLocation:
		var p provider.Provider[provider.Location]
		switch pc.Source {
		case "ip-api":
			p = provider.NewIPGeolocation(pc.URL)
		case "static":
			p = provider.Static[provider.Location]{
				Label: "static:location",
				Value: provider.Location{Latitude: pc.Latitude, Longitude: pc.Longitude},
			}
		default:
			return nil, fmt.Errorf("unknown location source %q", pc.Source)
		}
		return provider.NewJob(p, jc, aggregator.Sink[provider.Location](s.Aggregator, field)), nil

	default:
		p, err := s.numeric(field, pc, registers)
		if err != nil {
			return nil, err
		}
		return provider.NewJob(p, jc, aggregator.Sink[float64](s.Aggregator, field)), nil
	}
}

func (s *Sources) numeric(field aggregator.Field, pc config.ProviderConfig, registers RegisterSource) (provider.Provider[float64], error) {
	switch pc.Source {
	case "hwmon":
		return provider.NewHwmonTemp(pc.Sensor), nil
	case "nvidia-smi":
		return provider.NewNvidiaSMI(pc.Command), nil
	case "procnet":
		return provider.NewNetRate(pc.Interface), nil
	case "modbus":
		if registers == nil {
			return nil, fmt.Errorf("modbus source without a register reader")
		}
		return &provider.ModbusTemp{
			Reader:        registers(pc.Modbus, pc.Timeout.Std()),
			Register:      pc.Modbus.Register,
			InputRegister: pc.Modbus.InputRegister,
			Scale:         pc.Modbus.Scale,
		}, nil
	case "mqtt":
		m := provider.NewMQTTValue(provider.MQTTOptions{
			Broker:    pc.MQTT.Broker,
			Topic:     pc.MQTT.Topic,
			ClientID:  pc.MQTT.ClientID,
			Username:  pc.MQTT.Username,
			Password:  pc.MQTT.Password,
			JSONField: pc.MQTT.JSONField,
		})
		m.MaxAge = pc.Freshness.Std()
		s.mqtt = append(s.mqtt, m)
		return m, nil
	case "static":
		return provider.Static[float64]{Label: "static:" + string(field), Value: pc.Value}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", pc.Source)
	}
}

// locator prefers the aggregated location and falls back to the
// coordinates configured on the weather source.
func (s *Sources) locator(weather config.ProviderConfig) provider.Locator {
	fallback := provider.Location{Latitude: weather.Latitude, Longitude: weather.Longitude}
	hasFallback := weather.Latitude != 0 || weather.Longitude != 0
	return func() (provider.Location, bool) {
		if loc, ok := s.Aggregator.Location(); ok {
			return loc, true
		}
		return fallback, hasFallback
	}
}

// Run feeds the aggregator until ctx ends. It returns once every provider
// has stopped.
func (s *Sources) Run(ctx context.Context) {
	for _, m := range s.mqtt {
		m.Start()
	}
	defer s.stopMQTT()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Aggregator.Run(ctx)
	}()

	s.logger.Info("Providers started", "jobs", s.jobs)
	s.poller.Run(ctx)
	wg.Wait()
	s.logger.Info("Providers stopped")
}

func (s *Sources) stopMQTT() {
	for _, m := range s.mqtt {
		m.Stop()
	}
}
