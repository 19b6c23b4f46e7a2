package history_test

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func status(server string, minute int, code int) models.Record {
	return models.StatusRecord(models.StatusSample{
		ServerID:       server,
		When:           base.Add(time.Duration(minute) * time.Minute),
		HTTPStatusCode: code,
	})
}

func minutes(recs []models.Record) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, int(r.When.Sub(base)/time.Minute))
	}
	return out
}

// storeBehaviour is run against every backend.
func storeBehaviour(open func() history.Store) {
	var (
		store  history.Store
		ctx    context.Context
		entity string
	)

	BeforeEach(func() {
		store = open()
		ctx = context.Background()
		entity = "st-" + uuid.NewString()
		DeferCleanup(store.Close)
	})

	It("returns records newest first", func() {
		for _, m := range []int{1, 3, 2} {
			Expect(store.Append(ctx, status(entity, m, 200))).To(Succeed())
		}

		recs, err := store.Query(ctx, entity, history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(minutes(recs)).To(Equal([]int{3, 2, 1}))
		Expect(recs[0].Kind).To(Equal(models.KindStatus))
		Expect(recs[0].Status.ServerID).To(Equal(entity))
		Expect(recs[0].ID).NotTo(BeEmpty())
	})

	It("keeps identical appends", func() {
		rec := status(entity, 1, 200)
		Expect(store.Append(ctx, rec)).To(Succeed())
		Expect(store.Append(ctx, rec)).To(Succeed())

		recs, err := store.Query(ctx, entity, history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].ID).NotTo(Equal(recs[1].ID))
	})

	It("excludes records at or after before", func() {
		for m := 1; m <= 5; m++ {
			Expect(store.Append(ctx, status(entity, m, 200))).To(Succeed())
		}

		before := base.Add(3 * time.Minute)
		recs, err := store.Query(ctx, entity, history.QueryOptions{Before: &before})
		Expect(err).NotTo(HaveOccurred())
		Expect(minutes(recs)).To(Equal([]int{2, 1}))
	})

	It("applies the limit", func() {
		for m := 1; m <= 5; m++ {
			Expect(store.Append(ctx, status(entity, m, 200))).To(Succeed())
		}

		recs, err := store.Query(ctx, entity, history.QueryOptions{Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(minutes(recs)).To(Equal([]int{5, 4}))
	})

	It("returns an empty result for unknown entities", func() {
		recs, err := store.Query(ctx, "never-seen-"+uuid.NewString(), history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).NotTo(BeNil())
		Expect(recs).To(BeEmpty())
	})

	It("stores ping samples", func() {
		rec := models.PingRecord(models.PingSample{HostID: entity, When: base, Alive: true, LatencyNs: 42})
		Expect(store.Append(ctx, rec)).To(Succeed())

		recs, err := store.Query(ctx, entity, history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].Kind).To(Equal(models.KindPing))
		Expect(recs[0].Ping.Alive).To(BeTrue())
		Expect(recs[0].Ping.LatencyNs).To(Equal(int64(42)))
	})

	It("filters by kind when a host and a server share an id", func() {
		Expect(store.Append(ctx, status(entity, 1, 200))).To(Succeed())
		Expect(store.Append(ctx, models.PingRecord(models.PingSample{
			HostID: entity, When: base.Add(2 * time.Minute), Alive: true,
		}))).To(Succeed())
		Expect(store.Append(ctx, status(entity, 3, 503))).To(Succeed())

		recs, err := store.Query(ctx, entity, history.QueryOptions{Kind: models.KindStatus, Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(minutes(recs)).To(Equal([]int{3, 1}))
		for _, r := range recs {
			Expect(r.Kind).To(Equal(models.KindStatus))
		}

		recs, err = store.Query(ctx, entity, history.QueryOptions{Kind: models.KindPing})
		Expect(err).NotTo(HaveOccurred())
		Expect(minutes(recs)).To(Equal([]int{2}))

		recs, err = store.Query(ctx, entity, history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(3))
	})
}

var _ = Describe("QueryOptions", func() {
	DescribeTable("EffectiveLimit",
		func(limit, want int) {
			Expect(history.QueryOptions{Limit: limit}.EffectiveLimit()).To(Equal(want))
		},
		Entry("default", 0, history.MaxLimit),
		Entry("negative", -5, history.MaxLimit),
		Entry("in range", 10, 10),
		Entry("at the cap", 1024, 1024),
		Entry("above the cap", 5000, 1024),
	)
})

var _ = Describe("Memory", func() {
	storeBehaviour(func() history.Store { return history.NewMemory() })

	It("clamps results to the maximum limit", func() {
		store := history.NewMemory()
		ctx := context.Background()
		for i := 0; i < history.MaxLimit+10; i++ {
			Expect(store.Append(ctx, models.StatusRecord(models.StatusSample{
				ServerID: "busy",
				When:     base.Add(time.Duration(i) * time.Second),
			}))).To(Succeed())
		}

		recs, err := store.Query(ctx, "busy", history.QueryOptions{Limit: 5000})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(history.MaxLimit))
		Expect(recs[0].When).To(Equal(base.Add(time.Duration(history.MaxLimit+9) * time.Second)))
	})

	It("does not let callers mutate stored samples", func() {
		store := history.NewMemory()
		ctx := context.Background()
		users, stamp := 3, base.Add(-time.Hour)
		sample := models.StatusSample{ServerID: "st", When: base, HTTPStatusCode: 200, Users: &users, Stamp: &stamp}
		Expect(store.Append(ctx, models.StatusRecord(sample))).To(Succeed())
		users = 4

		recs, _ := store.Query(ctx, "st", history.QueryOptions{})
		recs[0].Status.HTTPStatusCode = 500
		*recs[0].Status.Users = 5
		*recs[0].Status.Stamp = base

		again, _ := store.Query(ctx, "st", history.QueryOptions{})
		Expect(again[0].Status.HTTPStatusCode).To(Equal(200))
		Expect(*again[0].Status.Users).To(Equal(3))
		Expect(*again[0].Status.Stamp).To(Equal(base.Add(-time.Hour)))
	})
})

var _ = Describe("Open", func() {
	It("defaults to the memory store", func() {
		store, err := history.Open(context.Background(), config.StoreConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(store).To(BeAssignableToTypeOf(&history.Memory{}))
	})

	It("rejects unknown drivers", func() {
		_, err := history.Open(context.Background(), config.StoreConfig{Driver: "mongo"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Postgres", func() {
	storeBehaviour(func() history.Store {
		url := os.Getenv("FLEETWATCH_TEST_DATABASE_URL")
		if url == "" {
			Skip("FLEETWATCH_TEST_DATABASE_URL not set")
		}
		store, err := history.NewPostgres(context.Background(), url)
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})

var _ = Describe("S3", func() {
	storeBehaviour(func() history.Store {
		endpoint := os.Getenv("FLEETWATCH_TEST_S3_ENDPOINT")
		if endpoint == "" {
			Skip("FLEETWATCH_TEST_S3_ENDPOINT not set")
		}
		store, err := history.NewS3(context.Background(), config.S3Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("FLEETWATCH_TEST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("FLEETWATCH_TEST_S3_SECRET_KEY"),
			Bucket:    "fleet-watcher-test",
			Prefix:    "samples",
		})
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})
