package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/stash/storage"
)

var _ = Describe("storage / InmemoryArea", func() {
	ctx := context.Background()

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)

			Expect(func() { area.Close() }).NotTo(Panic())
			Expect(func() { area.Close() }).NotTo(Panic())
		})

		It("rejects writes once closed", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)
			Expect(area.Close()).To(Succeed())

			err := area.Set(ctx, storage.Record{"foo": []byte(`"bar"`)})
			Expect(err).To(MatchError(storage.ErrAreaClosed))
		})
	})

	It("an empty inmemory area equals {}", func() {
		area := storage.NewInmemoryArea(storage.Local, nil)

		value, err := area.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)

			err := area.Set(ctx, storage.Record{"foo": []byte(`"bar"`)})
			Expect(err).To(Succeed())

			record, err := area.Get(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(record).To(Equal(storage.Record{"foo": []byte(`"bar"`)}))

			value, err := area.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":"bar"}`))
		})

		It("omits keys that have no value", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)

			record, err := area.Get(ctx, "missing")
			Expect(err).To(Succeed())
			Expect(record).To(BeEmpty())
		})

		It("returns every key when no keys are requested", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)
			Expect(area.Restore([]byte(`{"a":1,"b":{"c":true}}`))).To(Succeed())

			record, err := area.Get(ctx)
			Expect(err).To(Succeed())
			Expect(record).To(Equal(storage.Record{
				"a": []byte(`1`),
				"b": []byte(`{"c":true}`),
			}))
		})

		It("treats keys with path characters literally", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)

			err := area.Set(ctx, storage.Record{"user.settings*": []byte(`42`)})
			Expect(err).To(Succeed())

			record, err := area.Get(ctx, "user.settings*")
			Expect(err).To(Succeed())
			Expect(record).To(HaveKeyWithValue("user.settings*", []byte(`42`)))

			value, err := area.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"user.settings*":42}`))
		})

		It("removes a key when its value is nil", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)
			Expect(area.Restore([]byte(`{"foo":"bar"}`))).To(Succeed())

			Expect(area.Set(ctx, storage.Record{"foo": nil})).To(Succeed())

			record, err := area.Get(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(record).To(BeEmpty())
		})

		It("rejects values that are not JSON", func() {
			area := storage.NewInmemoryArea(storage.Local, nil)

			err := area.Set(ctx, storage.Record{"foo": []byte(`{nope`)})
			Expect(err).To(MatchError(storage.ErrInvalidValue))
		})

		It("publishes a change set when values are set", func() {
			feed := storage.NewFeed()
			defer feed.Close()

			area := storage.NewInmemoryArea(storage.Session, feed)
			Expect(area.Restore([]byte(`{"foo":"old"}`))).To(Succeed())

			changes, stop := feed.Watch()
			defer stop()

			err := area.Set(ctx, storage.Record{"foo": []byte(`"bar"`)})
			Expect(err).To(Succeed())

			var cs *storage.ChangeSet
			Eventually(changes).Should(Receive(&cs))
			Expect(cs).To(Equal(&storage.ChangeSet{
				Area: storage.Session,
				Changes: map[string]storage.Change{
					"foo": {OldValue: []byte(`"old"`), NewValue: []byte(`"bar"`)},
				},
			}))
		})
	})

	Describe("SetAccessLevel()", func() {
		It("records the access level", func() {
			area := storage.NewInmemoryArea(storage.Session, nil)
			Expect(area.AccessLevel()).To(Equal(storage.ExtensionPagesOnly))

			Expect(area.SetAccessLevel(ctx, storage.ExtensionPagesAndContentScripts)).To(Succeed())
			Expect(area.AccessLevel()).To(Equal(storage.ExtensionPagesAndContentScripts))
		})
	})
})
