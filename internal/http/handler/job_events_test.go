package handler_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"masterchain.app/orchestrator/internal/http/handler"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/store"
)

var _ = Describe("JobEventsHandler", func() {
	var (
		svc      *mockJobService
		router   *gin.Engine
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		svc = &mockJobService{}
		h := handler.NewJobEventsHandler(svc, nil)

		router = gin.New()
		router.GET("/v1/jobs/:id/events", h.Stream)

		recorder = httptest.NewRecorder()
	})

	request := func(id, owner string) {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id+"/events", nil)
		if owner != "" {
			req.Header.Set("X-Owner-ID", owner)
		}
		router.ServeHTTP(recorder, req)
	}

	It("streams updates until the terminal one", func() {
		svc.statusFn = func(int64) (*model.Job, error) {
			return sampleJob(), nil
		}
		updates := make(chan progress.Update, 2)
		updates <- progress.Update{JobID: 42, Status: model.JobStatusRunning, Progress: 50, At: time.Now().UTC()}
		updates <- progress.Update{JobID: 42, Status: model.JobStatusCompleted, Progress: 100, Terminal: true, At: time.Now().UTC()}
		svc.subscribeFn = func(jobID int64) (<-chan progress.Update, func(), error) {
			Expect(jobID).To(Equal(int64(42)))
			return updates, func() {}, nil
		}

		request("42", "alice")

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("text/event-stream"))

		body := recorder.Body.String()
		Expect(body).To(ContainSubstring("event: ping"))
		Expect(body).To(ContainSubstring("event: progress"))
		Expect(body).To(ContainSubstring(`"status":"running"`))
		Expect(body).To(ContainSubstring(`"status":"completed"`))
		Expect(body).To(ContainSubstring(`"terminal":true`))
	})

	It("stops when the subscription closes", func() {
		svc.statusFn = func(int64) (*model.Job, error) {
			return sampleJob(), nil
		}
		updates := make(chan progress.Update)
		close(updates)
		svc.subscribeFn = func(int64) (<-chan progress.Update, func(), error) {
			return updates, func() {}, nil
		}

		request("42", "alice")
		Expect(recorder.Code).To(Equal(http.StatusOK))
	})

	It("404s for unknown jobs", func() {
		svc.statusFn = func(int64) (*model.Job, error) {
			return nil, store.ErrNotFound
		}
		request("42", "alice")
		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})

	It("404s when the caller does not own the job", func() {
		svc.statusFn = func(int64) (*model.Job, error) {
			return sampleJob(), nil
		}
		request("42", "mallory")
		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})
})
