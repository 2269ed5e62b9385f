package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"masterchain.app/orchestrator/internal/http/handler"
	"masterchain.app/orchestrator/internal/storage"
)

var _ = Describe("FileHandler", func() {
	var (
		blobs    *storage.Memory
		router   *gin.Engine
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		blobs = storage.NewMemory()
		h := handler.NewFileHandler(blobs)

		router = gin.New()
		router.POST("/v1/files", h.Upload)
		router.GET("/v1/files", h.Download)

		recorder = httptest.NewRecorder()
	})

	It("stores an upload and serves it back", func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/files", strings.NewReader("fake audio bytes"))
		req.Header.Set("Content-Type", "audio/wav")
		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusCreated))
		var resp struct {
			Ref  string `json:"ref"`
			Size int    `json:"size"`
		}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Ref).To(HavePrefix("mem://"))
		Expect(resp.Size).To(Equal(len("fake audio bytes")))

		recorder = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/v1/files?ref="+resp.Ref, nil)
		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("audio/wav"))
		Expect(recorder.Body.String()).To(Equal("fake audio bytes"))
	})

	It("rejects empty uploads", func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/files", strings.NewReader(""))
		router.ServeHTTP(recorder, req)
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("requires a ref on download", func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		router.ServeHTTP(recorder, req)
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("404s for unknown refs", func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/files?ref=mem://999", nil)
		router.ServeHTTP(recorder, req)
		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})
})
