package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/fleet-watcher/internal/handler"
	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
	"github.com/angeloszaimis/fleet-watcher/internal/tracker"
	"github.com/angeloszaimis/fleet-watcher/pkg/logger"
)

type fixedSnapshot tracker.Snapshot

func (f fixedSnapshot) Snapshot() tracker.Snapshot { return tracker.Snapshot(f) }

type brokenStore struct{ history.Store }

func (brokenStore) Query(context.Context, string, history.QueryOptions) ([]models.Record, error) {
	return nil, history.ErrStoreQuery
}

type historyBody struct {
	Now    time.Time       `json:"now"`
	Server string          `json:"server"`
	Data   []models.Record `json:"data"`
	Err    string          `json:"err"`
}

var _ = Describe("Handler", func() {
	var (
		store  *history.Memory
		router http.Handler
		t0     time.Time
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	decodeHistory := func(rec *httptest.ResponseRecorder) historyBody {
		var body historyBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	BeforeEach(func() {
		t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		store = history.NewMemory()
		for i := 0; i < 3; i++ {
			s := models.StatusSample{
				ServerID:       "s1",
				When:           t0.Add(time.Duration(i) * time.Minute),
				HTTPStatusCode: http.StatusOK,
			}
			Expect(store.Append(context.Background(), models.StatusRecord(s))).To(Succeed())
		}

		snap := fixedSnapshot{
			Hosts: map[string]tracker.HostView{
				"h1": {ServerIDs: []string{"s1"}},
			},
			Servers: map[string]tracker.ServerView{
				"s1": {HostID: "h1", State: models.StateUp},
			},
		}
		h := handler.New(snap, store, logger.Discard())
		router = handler.NewRouter(h, handler.RouterConfig{
			AllowedOrigins: []string{"*"},
			Stats: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"pollCycles":0}`))
			}),
		})
	})

	Describe("GET /api/latest", func() {
		It("should return the fleet snapshot with a timestamp", func() {
			rec := get("/api/latest")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]json.RawMessage
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKey("now"))
			Expect(body).To(HaveKey("hosts"))
			Expect(body).To(HaveKey("servers"))
			Expect(string(body["servers"])).To(ContainSubstring(`"state":"UP"`))
		})
	})

	Describe("GET /api/history", func() {
		It("should return samples newest first", func() {
			body := decodeHistory(get("/api/history?server=s1"))
			Expect(body.Server).To(Equal("s1"))
			Expect(body.Data).To(HaveLen(3))
			Expect(body.Data[0].When).To(BeTemporally("==", t0.Add(2*time.Minute)))
			Expect(body.Data[2].When).To(BeTemporally("==", t0))
		})

		It("should leave out pings of a host with the same id", func() {
			ping := models.PingRecord(models.PingSample{HostID: "s1", When: t0.Add(5 * time.Minute), Alive: true})
			Expect(store.Append(context.Background(), ping)).To(Succeed())

			body := decodeHistory(get("/api/history?server=s1"))
			Expect(body.Data).To(HaveLen(3))
			for _, rec := range body.Data {
				Expect(rec.Kind).To(Equal(models.KindStatus))
			}
			Expect(body.Data[0].When).To(BeTemporally("==", t0.Add(2*time.Minute)))
		})

		It("should honour limit", func() {
			body := decodeHistory(get("/api/history?server=s1&limit=1"))
			Expect(body.Data).To(HaveLen(1))
			Expect(body.Data[0].When).To(BeTemporally("==", t0.Add(2*time.Minute)))
		})

		It("should accept before as unix milliseconds", func() {
			before := strconv.FormatInt(t0.Add(2*time.Minute).UnixMilli(), 10)
			body := decodeHistory(get("/api/history?server=s1&before=" + before))
			Expect(body.Data).To(HaveLen(2))
			Expect(body.Data[0].When).To(BeTemporally("==", t0.Add(time.Minute)))
		})

		It("should accept before as RFC3339", func() {
			before := url.QueryEscape(t0.Add(time.Minute).Format(time.RFC3339))
			body := decodeHistory(get("/api/history?server=s1&before=" + before))
			Expect(body.Data).To(HaveLen(1))
			Expect(body.Data[0].When).To(BeTemporally("==", t0))
		})

		It("should return an empty list for an unknown server", func() {
			rec := get("/api/history?server=nope")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"data":[]`))
		})

		It("should reject a missing server", func() {
			Expect(get("/api/history").Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject a malformed limit or before", func() {
			Expect(get("/api/history?server=s1&limit=ten").Code).To(Equal(http.StatusBadRequest))
			Expect(get("/api/history?server=s1&before=yesterday").Code).To(Equal(http.StatusBadRequest))
		})

		It("should report store failures in the body", func() {
			h := handler.New(fixedSnapshot{}, brokenStore{}, logger.Discard())
			router = handler.NewRouter(h, handler.RouterConfig{})

			rec := get("/api/history?server=s1")
			Expect(rec.Code).To(Equal(http.StatusOK))
			body := decodeHistory(rec)
			Expect(body.Err).To(Equal("DB error"))
			Expect(body.Server).To(Equal("s1"))
			Expect(body.Data).To(BeNil())
		})
	})

	Describe("auxiliary routes", func() {
		It("should answer healthz", func() {
			rec := get("/healthz")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"ok"`))
		})

		It("should mount the stats handler", func() {
			Expect(get("/api/stats").Body.String()).To(ContainSubstring("pollCycles"))
		})

		It("should not mount metrics when none is configured", func() {
			Expect(get("/metrics").Code).To(Equal(http.StatusNotFound))
		})

		It("should answer CORS preflight", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/latest", nil)
			req.Header.Set("Origin", "https://dash.example.org")
			req.Header.Set("Access-Control-Request-Method", "GET")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
