package env_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/stash/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig()", func() {
		It("applies defaults", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.DBPath).To(Equal("stash.db"))
			Expect(conf.HTTPAddr).To(Equal("0.0.0.0:7362"))
			Expect(conf.LogLevel).To(Equal("info"))
			Expect(conf.DebugHTTP).To(BeFalse())
			Expect(conf.MaxStores).To(Equal(1024))
		})

		It("reads the environment", func() {
			Expect(os.Setenv("STASH_DB_PATH", "/tmp/other.db")).To(Succeed())
			Expect(os.Setenv("STASH_DEBUG_HTTP", "true")).To(Succeed())
			defer os.Unsetenv("STASH_DB_PATH")
			defer os.Unsetenv("STASH_DEBUG_HTTP")

			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.DBPath).To(Equal("/tmp/other.db"))
			Expect(conf.DebugHTTP).To(BeTrue())
		})
	})

	Describe("MakeLogger()", func() {
		It("builds a logger at the requested level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())

			Expect(log.Core().Enabled(zap.WarnLevel)).To(BeTrue())
			Expect(log.Core().Enabled(zap.InfoLevel)).To(BeFalse())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("chatty")
			Expect(err).To(HaveOccurred())
		})
	})
})
