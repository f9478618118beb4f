// Package app builds the pinalbum service graph from settings and owns its
// lifecycle.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/pinalbum/internal/album"
	"github.com/tphakala/pinalbum/internal/api"
	"github.com/tphakala/pinalbum/internal/buildinfo"
	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/httpclient"
	"github.com/tphakala/pinalbum/internal/imagestore"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/mqtt"
	"github.com/tphakala/pinalbum/internal/observability"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
	"github.com/tphakala/pinalbum/internal/telemetry"
)

const (
	busShutdownTimeout = 5 * time.Second
	mqttConnectTimeout = 10 * time.Second
)

// App holds every long-lived component.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context

	Logger  logger.Logger
	Metrics *observability.Metrics // nil when metrics are disabled
	Records *datastore.Store
	Images  *imagestore.Store
	Events  *events.Bus
	Album   *album.Coordinator

	central     *logger.CentralLogger
	httpClient  *httpclient.Client
	mqttClient  mqtt.Client
	flushSentry func()
	fs          afero.Fs
	transport   httpclient.Config
}

// Option customises New.
type Option func(*App)

// WithFs replaces the filesystem the image cache writes to.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithLogger replaces the central logger built from settings.
func WithLogger(log logger.Logger) Option {
	return func(a *App) { a.Logger = log }
}

// WithHTTPConfig overrides the outbound HTTP client configuration.
func WithHTTPConfig(cfg httpclient.Config) Option {
	return func(a *App) { a.transport = cfg }
}

// New builds the service graph. Batches left in flight by a previous run are
// reset before New returns. The caller must Close the app.
func New(settings *conf.Settings, build *buildinfo.Context, opts ...Option) (a *App, err error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	a = &App{
		Settings:    settings,
		Build:       build,
		fs:          afero.NewOsFs(),
		flushSentry: func() {},
		transport:   httpclient.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.Logger == nil {
		central, lerr := logger.NewCentralLogger(&settings.Logging)
		if lerr != nil {
			return a, errors.New(lerr).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_logger").
				Build()
		}
		a.central = central
		a.Logger = central.Module("main")
	}

	flush, err := telemetry.InitSentry(&settings.Sentry, build.GetVersion(), nil, a.module("telemetry"))
	if err != nil {
		a.Logger.Warn("sentry disabled", logger.Error(err))
	} else {
		a.flushSentry = flush
	}

	if settings.Metrics.Enabled {
		a.Metrics, err = observability.NewMetrics()
		if err != nil {
			return a, errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("operation", "register_metrics").
				Build()
		}
	}
	var (
		albumMetrics  *metrics.AlbumMetrics
		searchMetrics *metrics.SearchMetrics
		imageMetrics  *metrics.ImageStoreMetrics
		mqttMetrics   *metrics.MQTTMetrics
		httpMetrics   *metrics.HTTPMetrics
	)
	if a.Metrics != nil {
		albumMetrics = a.Metrics.Album
		searchMetrics = a.Metrics.Search
		imageMetrics = a.Metrics.ImageStore
		mqttMetrics = a.Metrics.MQTT
		httpMetrics = a.Metrics.HTTP
	}

	a.Records, err = datastore.Open(&settings.Database, a.module("datastore"))
	if err != nil {
		return a, err
	}

	a.Images, err = imagestore.New(a.fs, settings.Cache.Path,
		imagestore.WithMetrics(imageMetrics),
		imagestore.WithLogger(a.module("imagestore")))
	if err != nil {
		return a, err
	}

	httpCfg := a.transport
	a.httpClient = httpclient.New(&httpCfg)
	if httpMetrics != nil {
		instrumentHTTP(a.httpClient, httpMetrics)
	}
	searcher, err := flickr.NewClient(&settings.Flickr, a.httpClient,
		flickr.WithMetrics(searchMetrics),
		flickr.WithLogger(a.module("flickr")))
	if err != nil {
		return a, err
	}

	a.Events = events.New(events.DefaultConfig(), a.module("events"))
	if settings.MQTT.Enabled {
		if err := a.startMQTT(mqttMetrics); err != nil {
			return a, err
		}
	}

	a.Album, err = album.New(album.Config{
		PageSize:      settings.Flickr.PageSize,
		MaxConcurrent: settings.Download.MaxConcurrent,
	}, album.Deps{
		Searcher:   searcher,
		Downloader: album.NewHTTPDownloader(a.httpClient, &settings.Download, albumMetrics),
		Images:     a.Images,
		Records:    a.Records,
		Events:     a.Events,
		Metrics:    albumMetrics,
		Logger:     a.module("album"),
	})
	if err != nil {
		return a, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reset, err := a.Album.Recover(ctx)
	if err != nil {
		return a, err
	}
	if reset > 0 {
		a.Logger.Info("reset interrupted batches", logger.Int("count", reset))
	}

	a.Logger.Info("pinalbum initialized",
		logger.String("version", build.String()),
		logger.String("database", settings.Database.Type),
		logger.Bool("mqtt", settings.MQTT.Enabled))
	return a, nil
}

// instrumentHTTP feeds every outbound request of client into m.
func instrumentHTTP(client *httpclient.Client, m *metrics.HTTPMetrics) {
	client.SetBeforeRequestHook(func(*http.Request) { m.RequestStarted() })
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.RequestFinished(req.URL.Host, status, err)
	})
}

func (a *App) module(name string) logger.Logger {
	if a.central != nil {
		return a.central.Module(name)
	}
	return a.Logger.Module(name)
}

// startMQTT connects to the broker and registers the publisher. A broker that
// is down at startup is logged; the publisher reconnects on the next event.
func (a *App) startMQTT(m *metrics.MQTTMetrics) error {
	log := a.module("mqtt")
	cfg := mqtt.ConfigFromSettings(&a.Settings.MQTT)
	client, err := mqtt.NewClient(cfg, m, log)
	if err != nil {
		return err
	}
	a.mqttClient = client

	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		log.Warn("initial MQTT connection failed", logger.Error(err))
	}
	return a.Events.RegisterConsumer(mqtt.NewPublisher(client, cfg, log))
}

// Server builds the HTTP API for the app's components.
func (a *App) Server() (*api.Server, error) {
	opts := []api.ServerOption{api.WithLogger(a.module("api"))}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetricsHandler(a.Metrics.Handler()))
	}
	return api.New(api.ConfigFromSettings(a.Settings), api.Deps{
		Album:   a.Album,
		Records: a.Records,
		Images:  a.Images,
	}, opts...)
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	server, err := a.Server()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.Logger.Info("shutdown requested")
		return server.Shutdown(context.WithoutCancel(ctx))
	}
}

// Close stops batches, drains the event bus and releases resources. It is
// safe on a partially built app.
func (a *App) Close() {
	if a.Album != nil {
		a.Album.Close()
	}
	if a.Events != nil {
		if err := a.Events.Shutdown(busShutdownTimeout); err != nil && a.Logger != nil {
			a.Logger.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.httpClient != nil {
		a.httpClient.Close()
	}
	if a.Records != nil {
		if err := a.Records.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("failed to close record store", logger.Error(err))
		}
	}
	if a.flushSentry != nil {
		a.flushSentry()
	}
	if a.central != nil {
		_ = a.central.Flush()
		_ = a.central.Close()
	}
}
