// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"math/rand/v2"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/spf13/afero"

	"github.com/holomush/holoserv/internal/module"
	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/internal/module/moduletest"
	"github.com/holomush/holoserv/internal/module/staging"
)

const scratchDir = "/run/holoserv/modules"

var errDiskFull = errors.New("no space left on device")

// shortWriteFs fails writes to files created in dir once budget bytes were written.
type shortWriteFs struct {
	afero.Fs
	dir    string
	budget int64
}

func (f shortWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || filepath.Dir(name) != f.dir {
		return file, err
	}
	return &shortWriteFile{File: file, budget: f.budget}, nil
}

type shortWriteFile struct {
	afero.File
	budget int64
}

func (w *shortWriteFile) Write(p []byte) (int, error) {
	if int64(len(p)) > w.budget {
		n, _ := w.File.Write(p[:w.budget])
		w.budget = 0
		return n, errDiskFull
	}
	w.budget -= int64(len(p))
	return w.File.Write(p)
}

func errorCode(err error) module.Result {
	return module.ResultOf(err)
}

var _ = Describe("Module lifecycle", func() {
	var (
		ctx    context.Context
		fs     afero.Fs
		loader *moduletest.Loader
		mgr    *module.Manager
	)

	newManager := func(fs afero.Fs) *module.Manager {
		return module.NewManager(modulesDir, module.NewRegistry(),
			module.WithLoader(loader),
			module.WithStaging(staging.New(fs, scratchDir)),
			module.WithLogger(slog.New(slog.DiscardHandler)),
		)
	}

	install := func(name string, size int) []byte {
		GinkgoHelper()
		content := make([]byte, size)
		for i := range content {
			content[i] = byte(i % 251)
		}
		Expect(afero.WriteFile(fs, filepath.Join(modulesDir, name+dl.Suffix), content, 0o755)).To(Succeed())
		return content
	}

	scratchFiles := func() []string {
		GinkgoHelper()
		entries, err := afero.ReadDir(fs, scratchDir)
		if os.IsNotExist(err) {
			return nil
		}
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}

	BeforeEach(func() {
		ctx = context.Background()
		fs = afero.NewMemMapFs()
		loader = moduletest.NewLoader()
		mgr = newManager(fs)
	})

	Describe("loading a name that is already active", func() {
		It("returns AlreadyExists and leaves the registry unchanged", func() {
			install("greet", 128)
			loader.Add("greet", current(module.TypeThird))

			first, err := mgr.Load(ctx, "greet", "")
			Expect(err).NotTo(HaveOccurred())
			before := mgr.Modules()

			_, err = mgr.Load(ctx, "greet", "")
			Expect(errorCode(err)).To(Equal(module.ResultAlreadyExists))
			Expect(mgr.Modules()).To(Equal(before))
			Expect(mgr.Find("greet")).To(BeIdenticalTo(first))
			Expect(scratchFiles()).To(HaveLen(1))
		})
	})

	Describe("loading a library that cannot be used", func() {
		It("returns NotFound when the file is missing", func() {
			_, err := mgr.Load(ctx, "greet", "")
			Expect(errorCode(err)).To(Equal(module.ResultNotFound))
			Expect(mgr.Modules()).To(BeEmpty())
			Expect(scratchFiles()).To(BeEmpty())
		})

		It("returns CannotOpen when the file is not a library", func() {
			install("greet", 64)
			loader.Add("greet", &moduletest.Fake{OpenErr: errors.New("file too short")})

			_, err := mgr.Load(ctx, "greet", "")
			Expect(errorCode(err)).To(Equal(module.ResultCannotOpen))
			Expect(mgr.Modules()).To(BeEmpty())
			Expect(scratchFiles()).To(BeEmpty())
		})
	})

	Describe("the version gate", func() {
		It("accepts only the exact host version", func() {
			install("greet", 64)
			host := mgr.HostVersion()

			for field := range 3 {
				for _, delta := range []int32{-3, -2, -1, 1, 2, 3} {
					v := [3]int32{int32(host.Major), int32(host.Minor), int32(host.Patch)} //nolint:gosec // small test values
					v[field] += delta
					fake := loader.Add("greet", &moduletest.Fake{Major: v[0], Minor: v[1], Patch: v[2]})

					_, err := mgr.Load(ctx, "greet", "")
					Expect(errorCode(err)).To(Equal(module.ResultIncompatibleVersion), "version %v", v)
					Expect(fake.Live()).To(BeZero())
				}
			}
			Expect(loader.OpenHandles()).To(BeZero())
			Expect(scratchFiles()).To(BeEmpty())

			loader.Add("greet", current(module.TypeThird))
			_, err := mgr.Load(ctx, "greet", "")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	DescribeTable("a module failing during construction or configuration",
		func(configure func(*moduletest.Fake), want module.Result) {
			install("greet", 64)
			fake := current(module.TypeThird)
			configure(fake)
			loader.Add("greet", fake)

			_, err := mgr.Load(ctx, "greet", "")
			Expect(errorCode(err)).To(Equal(want))
			Expect(loader.OpenHandles()).To(BeZero())
			Expect(scratchFiles()).To(BeEmpty())

			loader.Add("greet", current(module.TypeThird))
			mod, err := mgr.Load(ctx, "greet", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(mod.State()).To(Equal(module.StateActive))
		},
		Entry("constructor panics", func(f *moduletest.Fake) { f.InitPanic = "boom" }, module.ResultConstructorThrew),
		Entry("constructor fails", func(f *moduletest.Fake) { f.InitStatus = 1 }, module.ResultConstructorThrew),
		Entry("configuration hook panics", func(f *moduletest.Fake) { f.ReloadPanic = "boom" }, module.ResultConfigurationFailed),
		Entry("configuration hook rejects", func(f *moduletest.Fake) { f.ReloadStatus = 2 }, module.ResultConfigurationFailed),
	)

	Describe("unloading", func() {
		It("rejects a missing reference", func() {
			Expect(errorCode(mgr.Unload(ctx, nil, ""))).To(Equal(module.ResultBadParams))
		})

		It("removes the module from lookups", func() {
			install("greet", 64)
			loader.Add("greet", current(module.TypeThird))
			mod, err := mgr.Load(ctx, "greet", "")
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Unload(ctx, mod, "")).To(Succeed())
			Expect(mgr.Find("greet")).To(BeNil())
			Expect(mod.Handle()).To(BeFalse())
			Expect(scratchFiles()).To(BeEmpty())
		})
	})

	Describe("unloading everything", func() {
		It("empties the registry for any mixture of types, tearing each module down once", func() {
			rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic test data
			fakes := make(map[string]*moduletest.Fake)
			loadIndex := make(map[string]int)

			for i := range 40 {
				name := fmt.Sprintf("mod%02d", i)
				install(name, 16)
				typ := module.Type(rng.Uint32N(1 << 7))
				fakes[name] = loader.Add(name, current(typ))
				loadIndex[name] = i
				_, err := mgr.Load(ctx, name, "")
				Expect(err).NotTo(HaveOccurred())
			}

			var order []*module.Module
			mgr.Subscribe(module.ObserverFuncs{
				Unloading: func(_ context.Context, _ string, m *module.Module) {
					order = append(order, m)
				},
			})

			Expect(mgr.UnloadAll(ctx)).To(Succeed())
			Expect(mgr.Modules()).To(BeEmpty())
			Expect(order).To(HaveLen(40))
			for i := 1; i < len(order); i++ {
				prev, cur := order[i-1], order[i]
				prevTier, curTier := bits.Len32(uint32(prev.Type())), bits.Len32(uint32(cur.Type()))
				Expect(curTier).To(BeNumerically(">=", prevTier),
					"%s (%s) unloaded after %s (%s)", cur.Name(), cur.Type(), prev.Name(), prev.Type())
				if curTier == prevTier {
					Expect(loadIndex[cur.Name()]).To(BeNumerically(">", loadIndex[prev.Name()]),
						"%s and %s share a tier but left load order", prev.Name(), cur.Name())
				}
			}
			for name, f := range fakes {
				Expect(f.Finis()).To(Equal(1), "module %s", name)
			}
			Expect(loader.OpenHandles()).To(BeZero())
			Expect(scratchFiles()).To(BeEmpty())
		})
	})

	Describe("staging", func() {
		It("produces a byte-identical copy of a large library", func() {
			content := install("big", 10<<20)
			loader.Add("big", current(module.TypeThird))

			mod, err := mgr.Load(ctx, "big", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(mod.Staged()).To(BeTrue())

			staged, err := afero.ReadFile(fs, mod.BackingPath())
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.Equal(staged, content)).To(BeTrue())
		})

		It("leaves nothing behind when the copy fails midway", func() {
			install("big", 10<<20)
			loader.Add("big", current(module.TypeThird))
			mgr = newManager(shortWriteFs{Fs: fs, dir: scratchDir, budget: 1 << 20})

			_, err := mgr.Load(ctx, "big", "")
			Expect(errorCode(err)).To(Equal(module.ResultFileIOError))
			Expect(err).To(MatchError(ContainSubstring(errDiskFull.Error())))
			Expect(mgr.Modules()).To(BeEmpty())
			Expect(loader.Opened()).To(BeEmpty())
			Expect(scratchFiles()).To(BeEmpty())
		})
	})

	Describe("a load, unload, load round trip", func() {
		It("produces an equivalent module the second time", func() {
			install("foo", 64)
			loader.Add("foo", &moduletest.Fake{Major: 2, Minor: 1, Type: uint32(module.TypeCore), DisplayName: "Foo"})

			first, err := mgr.Load(ctx, "foo", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Unload(ctx, first, "")).To(Succeed())

			second, err := mgr.Load(ctx, "foo", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Name()).To(Equal(first.Name()))
			Expect(second.DisplayName()).To(Equal(first.DisplayName()))
			Expect(second.Type()).To(Equal(first.Type()))
			Expect(second.Version()).To(Equal(first.Version()))
			Expect(second.ID()).NotTo(Equal(first.ID()))
		})
	})
})
