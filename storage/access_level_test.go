package storage_test

import (
	"context"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/stash/storage"
)

var _ = Describe("storage / AccessCoordinator", func() {
	ctx := context.Background()

	It("widens the session area", func() {
		session := storage.NewInmemoryArea(storage.Session, nil)
		host := &storage.Host{
			Native: storage.NewNativeHost(nil, map[storage.AreaName]storage.NativeArea{storage.Session: session}),
		}

		coordinator := storage.NewAccessCoordinator(nil)
		Expect(coordinator.EnsureSessionAccessWidened(ctx, host, storage.Session)).To(Succeed())

		Expect(coordinator.Widened()).To(BeTrue())
		Expect(coordinator.WidenCount()).To(Equal(1))
		Expect(session.AccessLevel()).To(Equal(storage.ExtensionPagesAndContentScripts))
	})

	It("widens at most once, even when called concurrently", func() {
		refusing := &refusingArea{InmemoryArea: storage.NewInmemoryArea(storage.Session, nil)}
		host := &storage.Host{
			Native: storage.NewNativeHost(nil, map[storage.AreaName]storage.NativeArea{storage.Session: refusing}),
		}

		coordinator := storage.NewAccessCoordinator(nil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()

				Expect(coordinator.EnsureSessionAccessWidened(ctx, host, storage.Session)).To(Succeed())
			}()
		}
		wg.Wait()

		Expect(coordinator.WidenCount()).To(Equal(1))
		Expect(atomic.LoadInt32(&refusing.calls)).To(BeEquivalentTo(1))
	})

	It("does not fail when the host refuses", func() {
		refusing := &refusingArea{InmemoryArea: storage.NewInmemoryArea(storage.Session, nil)}
		host := &storage.Host{
			Native: storage.NewNativeHost(nil, map[storage.AreaName]storage.NativeArea{storage.Session: refusing}),
		}

		coordinator := storage.NewAccessCoordinator(nil)
		Expect(coordinator.EnsureSessionAccessWidened(ctx, host, storage.Session)).To(Succeed())
		Expect(coordinator.Widened()).To(BeTrue())
	})

	It("marks itself done when the area has no access levels", func() {
		host := &storage.Host{
			Native: storage.NewNativeHost(nil, map[storage.AreaName]storage.NativeArea{
				storage.Session: &plainArea{inner: storage.NewInmemoryArea(storage.Session, nil)},
			}),
		}

		coordinator := storage.NewAccessCoordinator(nil)
		Expect(coordinator.EnsureSessionAccessWidened(ctx, host, storage.Session)).To(Succeed())
		Expect(coordinator.Widened()).To(BeTrue())
		Expect(coordinator.WidenCount()).To(BeZero())
	})

	It("fails fast when the host lacks the area", func() {
		host := &storage.Host{}

		coordinator := storage.NewAccessCoordinator(nil)
		err := coordinator.EnsureSessionAccessWidened(ctx, host, storage.Session)

		var capErr *storage.CapabilityError
		Expect(err).To(BeAssignableToTypeOf(capErr))
		Expect(err).To(MatchError(storage.ErrAreaUnavailable))
		Expect(coordinator.Widened()).To(BeFalse())
	})

	It("shares one coordinator across the process", func() {
		Expect(storage.ProcessAccessCoordinator()).To(BeIdenticalTo(storage.ProcessAccessCoordinator()))
	})
})
