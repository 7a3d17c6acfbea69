package dedup_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/defnot001/biomebot/internal/dedup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func key(entity string) dedup.Key {
	return dedup.Key{Repository: "biomejs/biome", EntityID: entity, Action: "good-first-issue-alert"}
}

var _ = Describe("Memory", func() {
	var (
		ctx   context.Context
		clock *fakeClock
		store *dedup.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &fakeClock{now: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)}
		store = dedup.NewMemory(dedup.Config{Window: time.Hour, Capacity: 3}).WithClock(clock.Now)
	})

	It("reports FirstSeen then DuplicateWithinWindow", func() {
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		clock.Advance(59 * time.Minute)
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.DuplicateWithinWindow))
		Expect(store.CheckAndRecord(ctx, key("2"))).To(Equal(dedup.FirstSeen))
	})

	It("does not extend the window on duplicate sightings", func() {
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		clock.Advance(30 * time.Minute)
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.DuplicateWithinWindow))
		clock.Advance(30 * time.Minute)
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
	})

	It("treats a key as new again exactly when the window ends", func() {
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		clock.Advance(time.Hour - time.Nanosecond)
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.DuplicateWithinWindow))
		clock.Advance(time.Nanosecond)
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.DuplicateWithinWindow))
	})

	It("distinguishes repository, entity and action", func() {
		base := key("1")
		Expect(store.CheckAndRecord(ctx, base)).To(Equal(dedup.FirstSeen))

		other := base
		other.Repository = "biomejs/website"
		Expect(store.CheckAndRecord(ctx, other)).To(Equal(dedup.FirstSeen))

		other = base
		other.Action = "other-alert"
		Expect(store.CheckAndRecord(ctx, other)).To(Equal(dedup.FirstSeen))
	})

	It("evicts the oldest entry once the capacity is reached", func() {
		for _, id := range []string{"1", "2", "3"} {
			Expect(store.CheckAndRecord(ctx, key(id))).To(Equal(dedup.FirstSeen))
			clock.Advance(time.Minute)
		}
		Expect(store.CheckAndRecord(ctx, key("4"))).To(Equal(dedup.FirstSeen))
		Expect(store.Len()).To(Equal(3))

		// "1" was evicted: a false FirstSeen is the accepted failure mode.
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		Expect(store.CheckAndRecord(ctx, key("4"))).To(Equal(dedup.DuplicateWithinWindow))
	})

	It("drops expired entries before evicting live ones", func() {
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		clock.Advance(2 * time.Hour)
		Expect(store.CheckAndRecord(ctx, key("2"))).To(Equal(dedup.FirstSeen))
		Expect(store.Len()).To(Equal(1))
	})

	It("never reports a duplicate for a key it has not recorded", func() {
		for i := 0; i < 50; i++ {
			Expect(store.CheckAndRecord(ctx, key(fmt.Sprint(i)))).To(Equal(dedup.FirstSeen))
			clock.Advance(time.Second)
		}
	})

	It("forgets entries on the wall clock without a fake time source", func() {
		store = dedup.NewMemory(dedup.Config{Window: 20 * time.Millisecond, Capacity: 3})
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.DuplicateWithinWindow))

		Eventually(store.Len).Should(BeZero())
		Expect(store.CheckAndRecord(ctx, key("1"))).To(Equal(dedup.FirstSeen))
	})

	It("rejects incomplete keys", func() {
		_, err := store.CheckAndRecord(ctx, dedup.Key{Repository: "o/r", Action: "a"})
		Expect(err).To(MatchError(dedup.ErrEmptyKey))
		Expect(store.Len()).To(BeZero())
	})

	It("lets exactly one of many concurrent callers see FirstSeen", func() {
		store = dedup.NewMemory(dedup.Config{Window: time.Hour, Capacity: 100})

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			first int
		)
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				res, err := store.CheckAndRecord(ctx, key("race"))
				Expect(err).NotTo(HaveOccurred())
				if res == dedup.FirstSeen {
					mu.Lock()
					first++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(first).To(Equal(1))
	})
})

var _ = Describe("Key", func() {
	It("has a stable digest that ignores repository case", func() {
		a := dedup.Key{Repository: "BiomeJS/Biome", EntityID: "1", Action: "x"}
		b := dedup.Key{Repository: "biomejs/biome", EntityID: "1", Action: "x"}
		Expect(a.Digest()).To(Equal(b.Digest()))
		Expect(a.Digest()).To(HaveLen(64))
		Expect(a.Digest()).NotTo(Equal(dedup.Key{Repository: "biomejs/biome", EntityID: "2", Action: "x"}.Digest()))
	})
})
