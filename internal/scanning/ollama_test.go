package scanning

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		upstream *ghttp.Server
		source   *Ollama
		text     string
		err      error
	)

	BeforeEach(func() {
		upstream = ghttp.NewServer()
		var newErr error
		source, newErr = NewOllama(upstream.URL(), "llava", 0, Preprocess{})
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		upstream.Close()
	})

	JustBeforeEach(func() {
		text, err = source.RecognizeImage(context.Background(), encodePNG(testImage()), "image/png")
	})

	When("the model reads the label", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"text": "Bread\n1.80", "status": "ok"}`},
					Done:    true,
				}),
			))
		})

		It("returns the transcription", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Bread\n1.80"))
		})

		It("sends the image with the user message", func() {
			Expect(upstream.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the model cannot read the label", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Content: `{"text": "", "status": "unreadable"}`},
				Done:    true,
			}))
		})

		It("returns ErrUnreadableImage", func() {
			Expect(err).To(MatchError(ErrUnreadableImage))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "model loading"))
		})

		It("returns ErrSourceUnavailable", func() {
			Expect(err).To(MatchError(ErrSourceUnavailable))
			Expect(err.Error()).To(ContainSubstring("model loading"))
		})
	})
})
