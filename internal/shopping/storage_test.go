package shopping

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			ref   string
			data  []byte
			saved string
			err   error
		)

		BeforeEach(func() {
			ref = "abc_label.jpg"
			data = []byte("image bytes")
		})

		JustBeforeEach(func() {
			saved, err = storage.Save(ref, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the reference", func() {
				Expect(saved).To(Equal(ref))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, ref)).To(BeAnExistingFile())
			})
		})

		When("the reference contains a path", func() {
			BeforeEach(func() {
				ref = "../escape.jpg"
			})

			It("returns ErrInvalidImageRef", func() {
				Expect(err).To(MatchError(ErrInvalidImageRef))
				Expect(filepath.Join(tmpDir, "..", "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the image exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns its bytes", func() {
				data, err := storage.Get("a.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("png")))
			})
		})

		When("the image does not exist", func() {
			It("returns ErrImageNotFound", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(MatchError(ErrImageNotFound))
			})
		})
	})

	Describe("Delete", func() {
		When("the image exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes it from disk", func() {
				Expect(storage.Delete("a.png")).To(Succeed())
				Expect(filepath.Join(tmpDir, "a.png")).NotTo(BeAnExistingFile())
			})
		})

		When("the image does not exist", func() {
			It("returns ErrImageNotFound", func() {
				Expect(storage.Delete("missing.png")).To(MatchError(ErrImageNotFound))
			})
		})

		It("rejects nested references", func() {
			Expect(storage.Delete("sub/dir.png")).To(MatchError(ErrInvalidImageRef))
		})
	})
})
