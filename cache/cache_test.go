package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
	"github.com/sarchlab/mesisim/coherence"
	"github.com/sarchlab/mesisim/memory"
)

// snoopAll drains every broadcast on b as coreID observes it and applies it
// to other's cache, mimicking a real core's snoop responder goroutine. It
// runs until ctx is cancelled.
func snoopAll(ctx context.Context, b *bus.Bus, coreID int, other *cache.Cache, mem *memory.Memory) {
	var lastSeen uint64
	for {
		msg, seq, err := b.Observe(ctx, coreID, lastSeen)
		if err != nil {
			return
		}
		lastSeen = seq
		other.ApplySnoop(mem, msg)
		b.Ack(coreID, seq)
	}
}

var _ = Describe("Cache", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		b      *bus.Bus
		mem    *memory.Memory
		c0     *cache.Cache
		c1     *cache.Cache
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		b = bus.New(2)
		mem = memory.New(8)
		c0 = cache.New(0, 2)
		c1 = cache.New(1, 2)

		go snoopAll(ctx, b, 0, c0, mem)
		go snoopAll(ctx, b, 1, c1, mem)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Load", func() {
		It("misses on a cold line and installs it Shared", func() {
			val, err := c0.Load(ctx, b, mem, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal(byte(0)))

			line := c0.Snapshot(3 % 2)
			Expect(line.State).To(Equal(coherence.Shared))
			Expect(line.Tag).To(Equal(byte(3)))
		})

		It("hits without touching the bus once installed", func() {
			mem.Store(3, 9)
			_, err := c0.Load(ctx, b, mem, 3)
			Expect(err).NotTo(HaveOccurred())

			val, err := c0.Load(ctx, b, mem, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal(byte(9)))
		})

		It("sees a value written by another core's Store", func() {
			Expect(c1.Store(ctx, b, mem, 5, 77)).To(Succeed())

			val, err := c0.Load(ctx, b, mem, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal(byte(77)))

			Expect(c1.Snapshot(5 % 2).State).To(Equal(coherence.Shared))
		})

		It("copies back a dirty victim on a conflict miss", func() {
			Expect(c0.Store(ctx, b, mem, 2, 11)).To(Succeed())

			_, err := c0.Load(ctx, b, mem, 4) // same line (4 % 2 == 0), evicts addr 2
			Expect(err).NotTo(HaveOccurred())

			Expect(mem.Fetch(2)).To(Equal(byte(11)))
		})
	})

	Describe("Store", func() {
		It("installs Modified on a cold miss without a copyback", func() {
			Expect(c0.Store(ctx, b, mem, 1, 55)).To(Succeed())

			line := c0.Snapshot(1 % 2)
			Expect(line.State).To(Equal(coherence.Modified))
			Expect(line.Value).To(Equal(byte(55)))
			Expect(mem.Fetch(1)).To(Equal(byte(0)), "no copyback happens until flush")
		})

		It("upgrades a Shared line via BusReadX before writing", func() {
			_, err := c0.Load(ctx, b, mem, 6)
			Expect(err).NotTo(HaveOccurred())
			_, err = c1.Load(ctx, b, mem, 6)
			Expect(err).NotTo(HaveOccurred())

			Expect(c1.Store(ctx, b, mem, 6, 21)).To(Succeed())

			Expect(c0.Snapshot(6 % 2).State).To(Equal(coherence.Invalid))
			Expect(c1.Snapshot(6 % 2).State).To(Equal(coherence.Modified))
		})

		It("invalidates another core's copy of the same address", func() {
			_, err := c0.Load(ctx, b, mem, 2)
			Expect(err).NotTo(HaveOccurred())

			Expect(c1.Store(ctx, b, mem, 2, 99)).To(Succeed())

			Expect(c0.Snapshot(2 % 2).State).To(Equal(coherence.Invalid))
		})
	})

	Describe("Contended writes across cores", func() {
		It("settles memory on the last writer in bus order (property: eventual memory consistency)", func() {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(c0.Store(ctx, b, mem, 0, 1)).To(Succeed())
				Expect(c0.Store(ctx, b, mem, 0, 2)).To(Succeed())
			}()
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(c1.Store(ctx, b, mem, 0, 9)).To(Succeed())
			}()
			wg.Wait()

			c0.Flush(mem)
			c1.Flush(mem)
			Expect(mem.Fetch(0)).To(BeElementOf(byte(2), byte(9)))
		})

		It("never lets two cores hold the same address Modified, or Modified alongside Shared (property 1: coherence invariant)", func() {
			const iterations = 25
			caches := []*cache.Cache{c0, c1}

			var mu sync.Mutex
			var violations []string
			record := func(msg string) {
				mu.Lock()
				defer mu.Unlock()
				violations = append(violations, msg)
			}

			checkInvariant := func(addr byte) {
				modified, shared := 0, 0
				for _, c := range caches {
					line := c.Snapshot(int(addr) % c.NumLines())
					if !line.Matches(addr) {
						continue
					}
					switch line.State {
					case coherence.Modified:
						modified++
					case coherence.Shared:
						shared++
					}
				}
				if modified > 1 {
					record(fmt.Sprintf("addr %d: %d cores hold Modified simultaneously", addr, modified))
				}
				if modified == 1 && shared > 0 {
					record(fmt.Sprintf("addr %d: Modified in one core and Shared in another", addr))
				}
			}

			var wg sync.WaitGroup
			for i, c := range caches {
				i, c := i, c
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					for iter := 0; iter < iterations; iter++ {
						val := byte(i*iterations + iter)
						Expect(c.Store(ctx, b, mem, 3, val)).To(Succeed())
						checkInvariant(3)
					}
				}()
			}
			wg.Wait()
			checkInvariant(3)

			Expect(violations).To(BeEmpty())
		})
	})

	Describe("Flush", func() {
		It("writes back Modified lines and invalidates them", func() {
			Expect(c0.Store(ctx, b, mem, 1, 55)).To(Succeed())
			c0.Flush(mem)

			Expect(mem.Fetch(1)).To(Equal(byte(55)))
			Expect(c0.Snapshot(1 % 2).State).To(Equal(coherence.Invalid))
		})

		It("leaves clean lines untouched", func() {
			_, err := c0.Load(ctx, b, mem, 1)
			Expect(err).NotTo(HaveOccurred())
			c0.Flush(mem)

			Expect(c0.Snapshot(1 % 2).State).To(Equal(coherence.Shared))
		})
	})
})
