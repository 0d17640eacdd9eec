package shopping

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/flashka/internal/lookup"
	"github.com/zombor/flashka/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		images      *mockTextSource
		products    *mockProducts
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		images = &mockTextSource{text: "Bread\n1.80"}
		products = &mockProducts{product: &lookup.Product{Name: "Full Cream Milk", Brand: "Clover"}}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, Sources{Images: images, Products: products}, &mockPublisher{}, &sequenceIDGenerator{}, &mockTimeSource{})
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	upload := func(path, filename string, data []byte) *http.Response {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+path, writer.FormDataContentType(), &buf)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleHealth", func() {
		It("reports ok", func() {
			resp := do(http.MethodGet, "/health", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(Equal(map[string]any{"status": "ok"}))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do(http.MethodOptions, "/api/sessions/s/entries", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})

		It("sets headers on normal responses", func() {
			resp := do(http.MethodGet, "/health", "")
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "shopper", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := do(http.MethodGet, "/api/cards", "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "Unauthorized"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/cards", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("shopper", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/cards", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("shopper", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("leaves the health check open", func() {
			resp := do(http.MethodGet, "/health", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleCreateSession", func() {
		It("returns the new id", func() {
			resp := do(http.MethodPost, "/api/sessions", "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(decode(resp)).To(HaveKeyWithValue("id", "id-1"))
		})
	})

	Describe("handleScanText", func() {
		It("returns the candidate", func() {
			resp := do(http.MethodPost, "/api/scans/text", `{"text": "Bread 1.80"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["candidate"]).To(HaveKeyWithValue("name", "Bread"))
			Expect(body["candidate"]).To(HaveKeyWithValue("amount", BeNumerically("==", 1.80)))
		})

		It("answers 422 with the text when no price is found", func() {
			resp := do(http.MethodPost, "/api/scans/text", `{"text": "hello"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			body := decode(resp)
			Expect(body).To(HaveKeyWithValue("error", "no price found, enter manually"))
			Expect(body).To(HaveKeyWithValue("text", "hello"))
		})

		It("answers 422 when the price cannot be parsed", func() {
			resp := do(http.MethodPost, "/api/scans/text", `{"text": "R12,50"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "price format not recognised"))
		})

		It("rejects malformed bodies", func() {
			resp := do(http.MethodPost, "/api/scans/text", `{"text":`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleScanImage", func() {
		It("returns the candidate and image reference", func() {
			resp := upload("/api/scans/image", "label.jpg", []byte("jpeg"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body).To(HaveKeyWithValue("image_ref", "id-1_label.jpg"))
			Expect(storage.files).To(HaveKey("id-1_label.jpg"))
		})

		It("requires a file", func() {
			resp := do(http.MethodPost, "/api/scans/image", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the recognition service is down", func() {
			BeforeEach(func() {
				images.err = scanning.ErrSourceUnavailable
			})

			It("answers 502", func() {
				resp := upload("/api/scans/image", "label.jpg", []byte("jpeg"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "recognition service unavailable"))
			})
		})

		When("the image is unreadable", func() {
			BeforeEach(func() {
				images.err = scanning.ErrUnreadableImage
			})

			It("answers 422", func() {
				resp := upload("/api/scans/image", "label.jpg", []byte("jpeg"))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("handleScanSpeech", func() {
		It("answers 502 without a speech source", func() {
			resp := upload("/api/scans/speech", "price.wav", []byte("RIFF"))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("handleScanBarcode", func() {
		It("returns a named candidate", func() {
			resp := do(http.MethodPost, "/api/scans/barcode", `{"code": "6001234567890"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["candidate"]).To(HaveKeyWithValue("name", "Clover Full Cream Milk"))
		})

		When("the product is unknown", func() {
			BeforeEach(func() {
				products.err = lookup.ErrNotFound
			})

			It("answers 404", func() {
				resp := do(http.MethodPost, "/api/scans/barcode", `{"code": "6001234567890"}`)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the code is invalid", func() {
			BeforeEach(func() {
				products.err = lookup.ErrInvalidCode
			})

			It("answers 400", func() {
				resp := do(http.MethodPost, "/api/scans/barcode", `{"code": "abc"}`)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("images", func() {
		BeforeEach(func() {
			storage.files["id-9_label.png"] = []byte("\x89PNG\r\n\x1a\n")
		})

		It("serves stored images", func() {
			resp := do(http.MethodGet, "/api/images/id-9_label.png", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})

		It("answers 404 for missing images", func() {
			resp := do(http.MethodGet, "/api/images/missing.png", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("discards images", func() {
			resp := do(http.MethodDelete, "/api/images/id-9_label.png", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("entries", func() {
		const path = "/api/sessions/s1/entries"
		const bread = `{"candidate": {"name": "Bread", "amount": 1.80}, "quantity": 1}`

		BeforeEach(func() {
			Expect(db.CreateSession("s1")).To(Succeed())
		})

		confirm := func(body string) map[string]any {
			resp := do(http.MethodPost, path, body)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			return decode(resp)
		}

		It("merges repeated confirmations and totals them", func() {
			confirm(bread)
			entry := confirm(bread)
			Expect(entry).To(HaveKeyWithValue("quantity", BeNumerically("==", 2)))

			resp := do(http.MethodGet, path, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["entries"]).To(HaveLen(1))
			Expect(body).To(HaveKeyWithValue("total", BeNumerically("==", 3.60)))
			Expect(body).To(HaveKeyWithValue("unpurchased_total", BeNumerically("==", 3.60)))
		})

		It("defaults the quantity to one", func() {
			entry := confirm(`{"candidate": {"name": "Eggs", "amount": 3.20}}`)
			Expect(entry).To(HaveKeyWithValue("quantity", BeNumerically("==", 1)))
		})

		It("rejects a zero quantity", func() {
			resp := do(http.MethodPost, path, `{"candidate": {"name": "Eggs", "amount": 3.20}, "quantity": 0}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "quantity must be positive"))
		})

		It("rejects a negative candidate amount", func() {
			resp := do(http.MethodPost, path, `{"candidate": {"name": "Eggs", "amount": -3.20}}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns an empty ledger for a new session", func() {
			Expect(db.CreateSession("fresh")).To(Succeed())
			resp := do(http.MethodGet, "/api/sessions/fresh/entries", "")
			body := decode(resp)
			Expect(body["entries"]).To(BeEmpty())
			Expect(body).To(HaveKeyWithValue("total", BeNumerically("==", 0)))
		})

		It("answers 404 for sessions that were never created", func() {
			resp := do(http.MethodGet, "/api/sessions/unknown/entries", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "session not found"))

			resp = do(http.MethodPost, "/api/sessions/unknown/entries", bread)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(db.sessions).NotTo(HaveKey("unknown"))
		})

		It("answers 409 when discarding an image an entry holds", func() {
			storage.files["id-9_label.png"] = []byte("a")
			confirm(`{"candidate": {"name": "Jam", "amount": 4.20, "image_ref": "id-9_label.png"}}`)

			resp := do(http.MethodDelete, "/api/images/id-9_label.png", "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "image belongs to an entry or card"))
			Expect(storage.files).To(HaveKey("id-9_label.png"))
		})

		Describe("updating", func() {
			var id string

			JustBeforeEach(func() {
				id = confirm(bread)["id"].(string)
			})

			It("replaces fields", func() {
				resp := do(http.MethodPatch, path+"/"+id, `{"name": "Rye Bread", "amount": 2.10, "quantity": 3}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body).To(HaveKeyWithValue("name", "Rye Bread"))
				Expect(body).To(HaveKeyWithValue("amount", BeNumerically("==", 2.10)))
				Expect(body).To(HaveKeyWithValue("quantity", BeNumerically("==", 3)))
			})

			It("answers 400 for a negative amount", func() {
				resp := do(http.MethodPatch, path+"/"+id, `{"amount": -1}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "invalid amount"))
			})

			It("answers 409 for a rename onto another entry's name", func() {
				confirm(`{"candidate": {"name": "Eggs", "amount": 3.20}}`)

				resp := do(http.MethodPatch, path+"/"+id, `{"name": "Eggs"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "another entry already has that name"))
			})

			It("answers 404 for unknown ids", func() {
				resp := do(http.MethodPatch, path+"/missing", `{"quantity": 2}`)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "entry not found"))
			})

			It("toggles purchased", func() {
				resp := do(http.MethodPost, path+"/"+id+"/toggle", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)).To(HaveKeyWithValue("purchased", true))

				summary := decode(do(http.MethodGet, path, ""))
				Expect(summary).To(HaveKeyWithValue("unpurchased_total", BeNumerically("==", 0)))
			})

			It("deletes entries", func() {
				resp := do(http.MethodDelete, path+"/"+id, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				summary := decode(do(http.MethodGet, path, ""))
				Expect(summary["entries"]).To(BeEmpty())
			})
		})

		It("answers 404 when toggling unknown ids", func() {
			resp := do(http.MethodPost, path+"/missing/toggle", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("answers 204 when deleting unknown ids", func() {
			resp := do(http.MethodDelete, path+"/missing", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})
	})

	Describe("cards", func() {
		var id string

		JustBeforeEach(func() {
			resp := do(http.MethodPost, "/api/cards", `{"name": "Corner Grocer", "number": "6001 2345", "barcode": "12345678"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).NotTo(ContainSubstring("argon2"))
			Expect(string(raw)).NotTo(ContainSubstring("6001"))

			var card map[string]any
			Expect(json.Unmarshal(raw, &card)).To(Succeed())
			id = card["id"].(string)
		})

		It("lists cards", func() {
			resp := do(http.MethodGet, "/api/cards", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer resp.Body.Close()
			var cards []map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&cards)).To(Succeed())
			Expect(cards).To(HaveLen(1))
			Expect(cards[0]).To(HaveKeyWithValue("name", "Corner Grocer"))
		})

		It("verifies card numbers", func() {
			resp := do(http.MethodPost, "/api/cards/"+id+"/verify", `{"number": "60012345"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(HaveKeyWithValue("match", true))

			resp = do(http.MethodPost, "/api/cards/"+id+"/verify", `{"number": "1111"}`)
			Expect(decode(resp)).To(HaveKeyWithValue("match", false))
		})

		It("deletes cards", func() {
			resp := do(http.MethodDelete, "/api/cards/"+id, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("answers 404 for unknown cards", func() {
			resp := do(http.MethodDelete, "/api/cards/missing", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("answers 400 for a card without a number", func() {
			resp := do(http.MethodPost, "/api/cards", `{"name": "Corner Grocer"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
