// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package module_test

import (
	"context"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/spf13/afero"

	"github.com/holomush/holoserv/internal/module"
	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/internal/module/staging"
)

var _ = Describe("Loading native module libraries", func() {
	var (
		ctx context.Context
		cfg map[string]string
		mgr *module.Manager
	)

	configProvider := module.ConfigFunc(func(name string) ([]byte, error) {
		return []byte(cfg[name]), nil
	})

	BeforeEach(func() {
		ctx = context.Background()
		cfg = map[string]string{}
		mgr = module.NewManager(libDir, module.NewRegistry(),
			module.WithLoader(dl.New()),
			module.WithConfig(configProvider),
			module.WithLogger(slog.New(slog.DiscardHandler)),
		)
	})

	AfterEach(func() {
		Expect(mgr.UnloadAll(ctx)).To(Succeed())
	})

	It("loads, describes and unloads a module", func() {
		mod, err := mgr.Load(ctx, "fixture", "oper")
		Expect(err).NotTo(HaveOccurred())

		Expect(mod.DisplayName()).To(Equal("C fixture"))
		Expect(mod.Type()).To(Equal(module.TypeThird))
		Expect(mod.Version()).To(Equal(mgr.HostVersion()))
		Expect(mod.Creator()).To(Equal("oper"))
		Expect(mod.Handle()).To(BeTrue())

		Expect(mgr.Unload(ctx, mod, "oper")).To(Succeed())
		Expect(mod.Handle()).To(BeFalse())
		Expect(mgr.Find("fixture")).To(BeNil())

		_, err = mgr.Load(ctx, "fixture", "")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a file that is not a library", func() {
		_, err := mgr.Load(ctx, "garbage", "")
		Expect(module.ResultOf(err)).To(Equal(module.ResultCannotOpen))
		Expect(mgr.Modules()).To(BeEmpty())
	})

	It("rejects a library without every required entry point", func() {
		_, err := mgr.Load(ctx, "fixture_noreload", "")
		Expect(module.ResultOf(err)).To(Equal(module.ResultSymbolMissing))
	})

	It("reports a failing constructor with the module's own reason", func() {
		_, err := mgr.Load(ctx, "fixture_failing", "")
		Expect(module.ResultOf(err)).To(Equal(module.ResultConstructorThrew))
		Expect(err).To(MatchError(ContainSubstring("fixture refuses to start")))
	})

	It("rejects a module built against another host version", func() {
		_, err := mgr.Load(ctx, "fixture_newer", "")
		Expect(module.ResultOf(err)).To(Equal(module.ResultIncompatibleVersion))
		Expect(err).To(MatchError(ContainSubstring("a newer version 2.2")))
	})

	It("unloads a module whose configuration is rejected and loads it once fixed", func() {
		cfg["fixture"] = "reject: true\n"
		_, err := mgr.Load(ctx, "fixture", "")
		Expect(module.ResultOf(err)).To(Equal(module.ResultConfigurationFailed))
		Expect(err).To(MatchError(ContainSubstring("configuration rejected by fixture")))

		cfg["fixture"] = "reject: false\n"
		_, err = mgr.Load(ctx, "fixture", "")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("the ns_set_greet sample module", func() {
		It("loads with its default settings", func() {
			mod, err := mgr.Load(ctx, "ns_set_greet", "oper")
			Expect(err).NotTo(HaveOccurred())
			Expect(mod.DisplayName()).To(Equal("Greeting text"))
			Expect(mod.Type()).To(Equal(module.TypeThird))
			Expect(mod.Version()).To(Equal(mgr.HostVersion()))
		})

		It("accepts a greeting within max_length", func() {
			cfg["ns_set_greet"] = "greeting: Welcome back!\nmax_length: 200\n"
			_, err := mgr.Load(ctx, "ns_set_greet", "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a greeting longer than max_length", func() {
			cfg["ns_set_greet"] = "greeting: 'Welcome back!'\nmax_length: 5\n"
			_, err := mgr.Load(ctx, "ns_set_greet", "")
			Expect(module.ResultOf(err)).To(Equal(module.ResultConfigurationFailed))
			Expect(err).To(MatchError(ContainSubstring("greeting is 13 bytes, max_length is 5")))
			Expect(mgr.Find("ns_set_greet")).To(BeNil())
		})

		It("keeps running when a rehash brings an invalid max_length", func() {
			_, err := mgr.Load(ctx, "ns_set_greet", "")
			Expect(err).NotTo(HaveOccurred())

			err = mgr.Rehash(ctx, module.ConfigFunc(func(string) ([]byte, error) {
				return []byte("max_length: lots\n"), nil
			}))
			Expect(module.ResultOf(err)).To(Equal(module.ResultConfigurationFailed))
			Expect(err).To(MatchError(ContainSubstring("max_length is not a number: lots")))
			Expect(mgr.Find("ns_set_greet")).NotTo(BeNil())
		})
	})

	It("unloads lower tiers first", func() {
		var order []string
		mgr.Subscribe(module.ObserverFuncs{
			Unloading: func(_ context.Context, _ string, m *module.Module) {
				order = append(order, m.Name())
			},
		})

		_, err := mgr.Load(ctx, "fixture_core", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Load(ctx, "fixture", "")
		Expect(err).NotTo(HaveOccurred())

		Expect(mgr.UnloadAll(ctx)).To(Succeed())
		Expect(order).To(Equal([]string{"fixture", "fixture_core"}))
	})

	Context("with staging", func() {
		var runtimeDir string

		BeforeEach(func() {
			var err error
			runtimeDir, err = os.MkdirTemp("", "holoserv-runtime-*")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, runtimeDir)

			mgr = module.NewManager(libDir, module.NewRegistry(),
				module.WithStaging(staging.New(afero.NewOsFs(), runtimeDir)),
				module.WithLogger(slog.New(slog.DiscardHandler)),
			)
		})

		It("maps a scratch copy and removes it on unload", func() {
			mod, err := mgr.Load(ctx, "fixture", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(mod.Staged()).To(BeTrue())
			Expect(mod.BackingPath()).To(HavePrefix(runtimeDir))
			Expect(mod.BackingPath()).To(BeARegularFile())

			staged := mod.BackingPath()
			Expect(mgr.Unload(ctx, mod, "")).To(Succeed())
			Expect(staged).NotTo(BeAnExistingFile())
		})

		It("leaves no scratch copy behind when the load fails", func() {
			_, err := mgr.Load(ctx, "fixture_newer", "")
			Expect(err).To(HaveOccurred())

			entries, err := os.ReadDir(runtimeDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})
