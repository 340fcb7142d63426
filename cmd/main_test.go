package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/calcstore/internal/app"
	"github.com/okian/calcstore/internal/config"
	"github.com/okian/calcstore/pkg/logger"
)

func memoryConfig() *config.Config {
	cfg := config.New()
	cfg.StorageDriver = config.DriverMemory
	return cfg
}

func TestConfigToService(t *testing.T) {
	convey.Convey("Given configuration from the environment", t, func() {
		t.Setenv("CALCSTORE_STORAGE_DRIVER", "memory")
		t.Setenv("PORT", "8088")
		t.Setenv("CALCSTORE_MAX_LIST_LIMIT", "5")
		t.Setenv("CALCSTORE_DEFAULT_LIST_LIMIT", "3")

		cfg, err := config.Load(context.Background())
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.Addr(), convey.ShouldEqual, ":8088")

		convey.Convey("When the service and handler are built from it", func() {
			svc := newService(cfg, logger.Nop())
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			defer svc.Stop()
			srv := httptest.NewServer(newHandler(context.Background(), svc))
			defer srv.Close()

			convey.Convey("Then a calculation round-trips over HTTP", func() {
				resp, err := http.Post(srv.URL+"/api/calculations/add", "application/json",
					strings.NewReader(`{"number1":"7","number2":8}`))
				convey.So(err, convey.ShouldBeNil)
				defer resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)

				var body struct {
					Data struct {
						ID  string  `json:"id"`
						Sum float64 `json:"sum"`
					} `json:"data"`
				}
				convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
				convey.So(body.Data.Sum, convey.ShouldEqual, 15.0)

				got, err := http.Get(srv.URL + "/api/calculations/" + body.Data.ID)
				convey.So(err, convey.ShouldBeNil)
				defer got.Body.Close()
				convey.So(got.StatusCode, convey.ShouldEqual, http.StatusOK)
			})

			convey.Convey("Then the list limit from config is applied", func() {
				convey.So(svc.EffectiveLimit(50), convey.ShouldEqual, 5)
			})

			convey.Convey("Then the docs are served with CORS", func() {
				resp, err := http.Get(srv.URL + "/openapi.yaml")
				convey.So(err, convey.ShouldBeNil)
				defer resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(resp.Header.Get("Access-Control-Allow-Origin"), convey.ShouldEqual, "*")
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a memory-backed configuration on an ephemeral port", t, func() {
		cfg := memoryConfig()
		cfg.Port = 0

		convey.Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When rate limiting is enabled without reachable Redis", func() {
			cfg.RateLimitEnabled = true
			cfg.RateStatsRedisAddr = "127.0.0.1:1"
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			convey.Convey("Then the server still starts and stops", func() {
				convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given storage that cannot be reached", t, func() {
		cfg := config.New()
		cfg.MongoURI = "not-a-mongodb-uri"
		cfg.ConnectTimeoutMS = 200

		convey.Convey("Then run fails fast with a connect error", func() {
			err := run(context.Background(), cfg, logger.Nop())
			convey.So(errors.Is(err, app.ErrStorageConnect), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a port that is already taken", t, func() {
		busy, err := net.Listen("tcp", ":0")
		convey.So(err, convey.ShouldBeNil)
		defer busy.Close()

		cfg := memoryConfig()
		cfg.Port = busy.Addr().(*net.TCPAddr).Port

		convey.Convey("Then run reports the listen error", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldNotBeNil)
		})
	})
}

func TestHelpers(t *testing.T) {
	convey.Convey("Given the server helpers", t, func() {
		convey.Convey("Then the HTTP server carries timeouts", func() {
			srv := newHTTPServer(":0", http.NotFoundHandler())
			convey.So(srv.ReadTimeout, convey.ShouldEqual, readTimeout)
			convey.So(srv.WriteTimeout, convey.ShouldEqual, writeTimeout)
			convey.So(srv.IdleTimeout, convey.ShouldEqual, idleTimeout)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})

		convey.Convey("Then metrics updaters run without a started service", func() {
			svc := newService(memoryConfig(), logger.Nop())
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then metrics updaters stop with their context", func() {
			svc := newService(memoryConfig(), logger.Nop())
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			defer svc.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx, 10*time.Millisecond)
				startServiceMetricsUpdater(ctx, svc, 10*time.Millisecond)
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("updaters did not stop")
			}
		})

		convey.Convey("Then the rate limit option works without Redis", func() {
			cfg := memoryConfig()
			cfg.RateLimitEnabled = true
			cfg.RateLimitRPS = 1
			cfg.RateLimitBurst = 1
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			opt, closeFn := newRateLimit(ctx, cfg, logger.Nop())
			defer closeFn()

			svc := newService(cfg, logger.Nop())
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()
			h := newHandler(ctx, svc, opt)

			codes := make([]int, 0, 2)
			for range 2 {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calculations", http.NoBody))
				codes = append(codes, w.Code)
			}
			convey.So(codes, convey.ShouldResemble, []int{http.StatusOK, http.StatusTooManyRequests})
		})
	})
}
