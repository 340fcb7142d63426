package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/calcstore/internal/adapters/http/api"
	"github.com/okian/calcstore/internal/adapters/ratelimit"
	app "github.com/okian/calcstore/internal/app"
	"github.com/okian/calcstore/internal/domain/calculation"
	"github.com/okian/calcstore/pkg/logger"
)

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type record struct {
	ID        string     `json:"id"`
	Number1   float64    `json:"number1"`
	Number2   float64    `json:"number2"`
	Sum       float64    `json:"sum"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

var errBoom = errors.New("storage offline")

// failingDeps fails every operation.
type failingDeps struct{}

func (failingDeps) AddCalculation(context.Context, calculation.Operands) (calculation.Calculation, error) {
	return calculation.Calculation{}, errBoom
}

func (failingDeps) ListCalculations(context.Context, int) ([]calculation.Calculation, error) {
	return nil, errBoom
}

func (failingDeps) GetCalculation(context.Context, string) (calculation.Calculation, error) {
	return calculation.Calculation{}, errBoom
}

func (failingDeps) DeleteCalculation(context.Context, string) (calculation.Calculation, error) {
	return calculation.Calculation{}, errBoom
}

func (failingDeps) Ping(context.Context) error { return errBoom }

type staticStats map[string]any

func (s staticStats) GetStats(context.Context) map[string]any { return s }

func newService(t *testing.T) *app.Service {
	t.Helper()
	svc := app.New(
		app.WithLogger(logger.Nop()),
		app.WithStorageDriver(app.DriverMemory),
		app.WithListLimits(10, 100),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func newMux(deps api.Dependencies, health api.HealthChecker, stats api.StatsProvider, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, health, stats, opts...).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, body string) (*httptest.ResponseRecorder, response) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	var resp response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func add(mux http.Handler, n1, n2 string) record {
	_, resp := do(mux, http.MethodPost, "/api/calculations/add", fmt.Sprintf(`{"number1":%s,"number2":%s}`, n1, n2))
	var rec record
	_ = json.Unmarshal(resp.Data, &rec)
	return rec
}

func list(mux http.Handler, target string) (response, []record) {
	_, resp := do(mux, http.MethodGet, target, "")
	var recs []record
	_ = json.Unmarshal(resp.Data, &recs)
	return resp, recs
}

func TestAddCalculation(t *testing.T) {
	Convey("Given an API server over an empty store", t, func() {
		svc := newService(t)
		mux := newMux(svc, svc, svc)

		Convey("When adding two numbers", func() {
			w, resp := do(mux, http.MethodPost, "/api/calculations/add", `{"number1":5,"number2":3}`)
			var rec record
			So(json.Unmarshal(resp.Data, &rec), ShouldBeNil)

			Convey("Then the sum is persisted and returned with 201", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(resp.Success, ShouldBeTrue)
				So(resp.Message, ShouldEqual, "Calculation saved successfully")
				So(rec.Number1, ShouldEqual, 5.0)
				So(rec.Number2, ShouldEqual, 3.0)
				So(rec.Sum, ShouldEqual, 8.0)
				So(rec.ID, ShouldHaveLength, 24)
				So(rec.CreatedAt.IsZero(), ShouldBeFalse)
				So(rec.UpdatedAt, ShouldBeNil)
			})

			Convey("And the response carries a request id", func() {
				So(w.Header().Get(api.HeaderRequestID), ShouldNotBeEmpty)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			})

			Convey("And a second add gets a fresh id", func() {
				other := add(mux, "1", "1")
				So(other.ID, ShouldNotEqual, rec.ID)
			})
		})

		Convey("When operands are numeric strings", func() {
			rec := add(mux, `" 1.5 "`, `"2e1"`)

			Convey("Then they are parsed as numbers", func() {
				So(rec.Sum, ShouldEqual, 21.5)
			})
		})

		Convey("When a field is missing", func() {
			w, resp := do(mux, http.MethodPost, "/api/calculations/add", `{"number1":5}`)

			Convey("Then it is rejected and nothing is stored", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(resp.Success, ShouldBeFalse)
				So(resp.Message, ShouldEqual, "Both number1 and number2 are required")
				listResp, _ := list(mux, "/api/calculations")
				So(*listResp.Count, ShouldEqual, 0)
			})
		})

		Convey("When a field is not numeric", func() {
			for _, body := range []string{
				`{"number1":"abc","number2":3}`,
				`{"number1":"12abc","number2":3}`,
				`{"number1":true,"number2":3}`,
				`{"number1":null,"number2":3}`,
				`{"number1":{},"number2":3}`,
				`{"number1":"","number2":3}`,
				`{"number1":"NaN","number2":3}`,
				`{"number1":1e308,"number2":1e308}`,
			} {
				w, resp := do(mux, http.MethodPost, "/api/calculations/add", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(resp.Message, ShouldEqual, "Invalid numbers provided")
			}

			Convey("Then nothing is stored", func() {
				listResp, _ := list(mux, "/api/calculations")
				So(*listResp.Count, ShouldEqual, 0)
			})
		})

		Convey("When the body is a JSON array", func() {
			w, resp := do(mux, http.MethodPost, "/api/calculations/add", `[1,2]`)

			Convey("Then it is validated like an empty object", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(resp.Message, ShouldEqual, "Both number1 and number2 are required")
			})
		})

		Convey("When the body is not valid JSON", func() {
			w, resp := do(mux, http.MethodPost, "/api/calculations/add", `{"number1":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(resp.Message, ShouldEqual, "Invalid JSON body")
			})
		})

		Convey("When the body is not declared as JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/calculations/add", strings.NewReader(`number1=1&number2=2`))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it is treated as an empty body", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "Both number1 and number2 are required")
			})
		})
	})

	Convey("Given a server with a small body limit", t, func() {
		svc := newService(t)
		mux := newMux(svc, svc, svc, api.WithMaxBodyBytes(16))

		Convey("When the body exceeds the limit", func() {
			w, resp := do(mux, http.MethodPost, "/api/calculations/add", `{"number1":12345,"number2":67890}`)

			Convey("Then it is rejected with 413", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
				So(resp.Success, ShouldBeFalse)
				So(resp.Message, ShouldEqual, "Request body too large")
			})
		})
	})
}

func TestListCalculations(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc := newService(t)
		mux := newMux(svc, svc, svc)

		Convey("When the store is empty", func() {
			w, _ := do(mux, http.MethodGet, "/api/calculations", "")

			Convey("Then an empty list is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"success":true,"count":0,"data":[]}`)
			})
		})

		Convey("When three calculations exist", func() {
			first := add(mux, "1", "1")
			time.Sleep(2 * time.Millisecond)
			second := add(mux, "2", "2")
			time.Sleep(2 * time.Millisecond)
			third := add(mux, "3", "3")

			Convey("Then limit=2 returns the newest two", func() {
				resp, recs := list(mux, "/api/calculations?limit=2")
				So(*resp.Count, ShouldEqual, 2)
				So(recs, ShouldHaveLength, 2)
				So(recs[0].ID, ShouldEqual, third.ID)
				So(recs[1].ID, ShouldEqual, second.ID)
			})

			Convey("Then a bad limit falls back to the default", func() {
				for _, target := range []string{"/api/calculations?limit=abc", "/api/calculations?limit=0", "/api/calculations?limit=-4"} {
					resp, recs := list(mux, target)
					So(*resp.Count, ShouldEqual, 3)
					So(recs[2].ID, ShouldEqual, first.ID)
				}
			})

			Convey("Then a limit with trailing characters uses its leading integer", func() {
				for _, target := range []string{"/api/calculations?limit=2abc", "/api/calculations?limit=2.5", "/api/calculations?limit=%202"} {
					resp, recs := list(mux, target)
					So(*resp.Count, ShouldEqual, 2)
					So(recs[0].ID, ShouldEqual, third.ID)
				}
			})

			Convey("Then an oversized limit is capped rather than defaulted", func() {
				resp, _ := list(mux, "/api/calculations?limit=99999999999999999999")
				So(*resp.Count, ShouldEqual, 3)
			})

			Convey("Then a trailing slash lists too", func() {
				w, resp := do(mux, http.MethodGet, "/api/calculations/", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(*resp.Count, ShouldEqual, 3)
			})
		})

		Convey("When more records exist than the default limit", func() {
			for i := range 12 {
				add(mux, fmt.Sprint(i), "0")
			}

			Convey("Then only the default number is returned", func() {
				resp, _ := list(mux, "/api/calculations")
				So(*resp.Count, ShouldEqual, 10)
			})
		})
	})
}

func TestGetAndDeleteCalculation(t *testing.T) {
	Convey("Given a stored calculation", t, func() {
		svc := newService(t)
		mux := newMux(svc, svc, svc)
		created := add(mux, "2.5", "4")

		Convey("When it is fetched", func() {
			w, resp := do(mux, http.MethodGet, "/api/calculations/"+created.ID, "")
			var got record
			So(json.Unmarshal(resp.Data, &got), ShouldBeNil)

			Convey("Then it matches what was created", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(resp.Success, ShouldBeTrue)
				So(got.ID, ShouldEqual, created.ID)
				So(got.Number1, ShouldEqual, created.Number1)
				So(got.Number2, ShouldEqual, created.Number2)
				So(got.Sum, ShouldEqual, 6.5)
				So(got.CreatedAt.Equal(created.CreatedAt), ShouldBeTrue)
				So(got.UpdatedAt, ShouldNotBeNil)
			})
		})

		Convey("When an unknown or malformed id is fetched", func() {
			for _, id := range []string{"64b7f0000000000000000000", "not-an-id"} {
				w, resp := do(mux, http.MethodGet, "/api/calculations/"+id, "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(resp.Success, ShouldBeFalse)
				So(resp.Message, ShouldEqual, "Calculation not found")
			}
		})

		Convey("When it is deleted", func() {
			w, resp := do(mux, http.MethodDelete, "/api/calculations/"+created.ID, "")
			var deleted record
			So(json.Unmarshal(resp.Data, &deleted), ShouldBeNil)

			Convey("Then the deleted record is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(resp.Message, ShouldEqual, "Calculation deleted successfully")
				So(deleted.ID, ShouldEqual, created.ID)
			})

			Convey("And a later get returns 404", func() {
				w, _ := do(mux, http.MethodGet, "/api/calculations/"+created.ID, "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And a second delete returns 404", func() {
				w, resp := do(mux, http.MethodDelete, "/api/calculations/"+created.ID, "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(resp.Message, ShouldEqual, "Calculation not found")
			})
		})
	})
}

func TestStorageFailures(t *testing.T) {
	Convey("Given a server whose storage fails", t, func() {
		deps := failingDeps{}
		mux := newMux(deps, deps, staticStats{})

		cases := []struct {
			method, target, body, message string
		}{
			{http.MethodPost, "/api/calculations/add", `{"number1":1,"number2":2}`, "Failed to save calculation"},
			{http.MethodGet, "/api/calculations", "", "Failed to fetch calculations"},
			{http.MethodGet, "/api/calculations/64b7f0000000000000000000", "", "Failed to fetch calculation"},
			{http.MethodDelete, "/api/calculations/64b7f0000000000000000000", "", "Failed to delete calculation"},
		}
		for _, tc := range cases {
			Convey("Then "+tc.method+" "+tc.target+" returns a 500 envelope", func() {
				w, resp := do(mux, tc.method, tc.target, tc.body)
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(resp.Success, ShouldBeFalse)
				So(resp.Message, ShouldEqual, tc.message)
				So(resp.Error, ShouldContainSubstring, errBoom.Error())
			})
		}

		Convey("Then the health check reports unavailable", func() {
			w, _ := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, `"success":false`)
		})
	})
}

func TestServiceRoutes(t *testing.T) {
	Convey("Given a registered server", t, func() {
		svc := newService(t)
		mux := newMux(svc, svc, svc)

		Convey("Then GET / describes the endpoints", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			var body struct {
				Message   string            `json:"message"`
				Endpoints map[string]string `json:"endpoints"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Message, ShouldEqual, "API is working!")
			So(body.Endpoints["addCalculation"], ShouldEqual, "POST /api/calculations/add")
			So(body.Endpoints, ShouldHaveLength, 5)
		})

		Convey("Then the health check passes", func() {
			w, _ := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then stats include the record count", func() {
			add(mux, "1", "2")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))
			var stats map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["totalCalculations"], ShouldEqual, float64(1))
			So(stats["driver"], ShouldEqual, app.DriverMemory)
		})

		Convey("Then metrics are exposed", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})

		Convey("Then unknown routes return the not-found envelope", func() {
			for _, tc := range [][2]string{{http.MethodGet, "/nope"}, {http.MethodPut, "/api/calculations/abc"}} {
				w, resp := do(mux, tc[0], tc[1], "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(resp.Message, ShouldEqual, "Route not found")
			}
		})

		Convey("Then preflight requests get 204", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/calculations/add", http.NoBody)
			req.Header.Set("Origin", "http://example.test")
			req.Header.Set("Access-Control-Request-Headers", "content-type")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			So(w.Header().Get("Access-Control-Allow-Methods"), ShouldContainSubstring, "DELETE")
			So(w.Header().Get("Access-Control-Allow-Headers"), ShouldEqual, "content-type")
		})

		Convey("Then an inbound request id is echoed", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/calculations", http.NoBody)
			req.Header.Set(api.HeaderRequestID, "req-42")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Header().Get(api.HeaderRequestID), ShouldEqual, "req-42")
		})
	})
}

func TestRecoverMiddleware(t *testing.T) {
	Convey("Given a handler that panics", t, func() {
		srv := api.NewServer(failingDeps{}, nil, nil)
		h := srv.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))

		Convey("When it is served", func() {
			w, resp := do(h, http.MethodGet, "/", "")

			Convey("Then a 500 envelope is written", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(resp.Success, ShouldBeFalse)
				So(resp.Message, ShouldEqual, "Something went wrong!")
				So(resp.Error, ShouldEqual, "kaboom")
			})
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a server allowing one request per client", t, func() {
		svc := newService(t)
		limiter := ratelimit.NewLimiter(0.5, 1, ratelimit.WithCleanupEvery(0))
		mux := newMux(svc, svc, svc, api.WithRateLimit(limiter, nil, ratelimit.NewRedisStats(nil)))

		Convey("When a client sends two requests", func() {
			first, _ := do(mux, http.MethodGet, "/api/calculations", "")
			second, resp := do(mux, http.MethodGet, "/api/calculations", "")

			Convey("Then the second is rejected with a retry hint", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusTooManyRequests)
				So(resp.Message, ShouldEqual, "Too many requests")
				So(second.Header().Get("Retry-After"), ShouldEqual, "2")
			})
		})
	})
}
