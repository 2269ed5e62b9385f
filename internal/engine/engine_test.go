package engine_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/internal/adapter"
	"masterchain.app/orchestrator/internal/engine"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/planner"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/quality"
	"masterchain.app/orchestrator/internal/registry"
	"masterchain.app/orchestrator/internal/store"
)

var (
	goodMetrics = map[string]float64{"signal": 0.95, "artifact": 0.95, "fidelity": 0.95}
	poorMetrics = map[string]float64{"signal": 0.5, "artifact": 0.5, "fidelity": 0.5}
)

// scriptedAdapter replays a fixed sequence of responses; the last entry
// repeats once the script runs out. It records every request it sees.
type scriptedAdapter struct {
	mu         sync.Mutex
	descriptor model.ModelDescriptor
	script     []func(adapter.Request) (*adapter.Result, error)
	requests   []adapter.Request
}

func (a *scriptedAdapter) Invoke(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	idx := len(a.requests) - 1
	var fn func(adapter.Request) (*adapter.Result, error)
	if len(a.script) > 0 {
		if idx >= len(a.script) {
			idx = len(a.script) - 1
		}
		fn = a.script[idx]
	}
	a.mu.Unlock()

	if fn == nil {
		return &adapter.Result{OutputRef: "mem://" + a.descriptor.Name, Cost: 0.1, Metrics: goodMetrics}, nil
	}
	return fn(req)
}

func (a *scriptedAdapter) EstimateCost(req adapter.Request) float64 {
	return a.descriptor.CostPerSecond * req.DurationSeconds
}

func (a *scriptedAdapter) Descriptor() model.ModelDescriptor { return a.descriptor }

func (a *scriptedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *scriptedAdapter) request(i int) adapter.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[i]
}

func succeedWith(ref string, metrics map[string]float64) func(adapter.Request) (*adapter.Result, error) {
	return func(adapter.Request) (*adapter.Result, error) {
		return &adapter.Result{OutputRef: ref, Cost: 0.1, Metrics: metrics}, nil
	}
}

func failWith(err error) func(adapter.Request) (*adapter.Result, error) {
	return func(adapter.Request) (*adapter.Result, error) { return nil, err }
}

// hangingAdapter blocks every invocation until its context is done.
type hangingAdapter struct {
	scriptedAdapter
}

func (a *hangingAdapter) Invoke(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

// stuckAdapter never returns and never watches its context.
type stuckAdapter struct {
	scriptedAdapter
	block chan struct{}
}

func (a *stuckAdapter) Invoke(_ context.Context, req adapter.Request) (*adapter.Result, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	<-a.block
	return nil, errors.New("gave up")
}

func newStuck(name string, cap model.Capability) *stuckAdapter {
	a := &stuckAdapter{block: make(chan struct{})}
	a.descriptor = model.ModelDescriptor{
		Name:          name,
		Capabilities:  []model.Capability{cap},
		CostPerSecond: 0.001,
		Reliability:   0.9,
		Healthy:       true,
	}
	return a
}

func newHanging(name string, cap model.Capability) *hangingAdapter {
	a := &hangingAdapter{}
	a.descriptor = model.ModelDescriptor{
		Name:          name,
		Capabilities:  []model.Capability{cap},
		CostPerSecond: 0.001,
		Reliability:   0.9,
		Healthy:       true,
	}
	return a
}

func newScripted(name string, cap model.Capability, script ...func(adapter.Request) (*adapter.Result, error)) *scriptedAdapter {
	return &scriptedAdapter{
		descriptor: model.ModelDescriptor{
			Name:          name,
			Capabilities:  []model.Capability{cap},
			CostPerSecond: 0.001,
			Reliability:   0.9,
			Healthy:       true,
		},
		script: script,
	}
}

func testConfig() config.Config {
	return config.Config{
		Env: "test",
		Engine: config.EngineConfig{
			MaxConcurrentJobs: 4,
			MaxProcessingTime: 5 * time.Second,
			MaxAttempts:       3,
			BackoffBase:       time.Millisecond,
			BackoffCap:        5 * time.Millisecond,
			CancelGrace:       5 * time.Millisecond,
			ReliabilityAlpha:  0.2,
		},
		Tiers: config.TiersConfig{
			Free:    config.TierLimits{MaxConcurrent: 1, CreditBudget: 5},
			Premium: config.TierLimits{MaxConcurrent: 3, CreditBudget: 50},
			Pro:     config.TierLimits{MaxConcurrent: 10, CreditBudget: 500},
		},
		Quality: config.QualityConfig{
			Threshold:  0.70,
			MaxRetries: 1,
			Critical:   []string{"master"},
		},
		Providers: config.ProvidersConfig{RequestTimeout: 500 * time.Millisecond},
	}
}

var _ = Describe("Engine", func() {
	var (
		cfg     config.Config
		reg     *registry.Registry
		jobs    *store.JobStore
		history *store.MemoryHistory
		pub     *progress.Publisher
		eng     *engine.Engine
		ctx     context.Context
		stop    context.CancelFunc
	)

	start := func() {
		jobs = store.NewJobStore()
		history = store.NewMemoryHistory()
		pub = progress.New(nil, 0, 16, nil)
		pl := planner.New(reg, nil, cfg.Tiers)
		assessor := quality.New(cfg.Quality)
		eng = engine.New(cfg, jobs, history, pl, assessor, reg, pub)

		var engCtx context.Context
		engCtx, stop = context.WithCancel(context.Background())
		go eng.Run(engCtx)
	}

	submit := func(req engine.SubmitRequest) *model.Job {
		job, err := eng.SubmitJob(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	waitTerminal := func(jobID int64) *model.Job {
		var final *model.Job
		Eventually(func() bool {
			snap, err := eng.Status(jobID)
			if err != nil {
				return false
			}
			final = snap
			return snap.Status.Terminal()
		}, 3*time.Second, 5*time.Millisecond).Should(BeTrue())
		return final
	}

	BeforeEach(func() {
		cfg = testConfig()
		reg = registry.New(cfg.Engine.ReliabilityAlpha)
		ctx = context.Background()
	})

	AfterEach(func() {
		if stop != nil {
			stop()
		}
	})

	Describe("happy path", func() {
		var gen, master *scriptedAdapter

		BeforeEach(func() {
			gen = newScripted("gen", model.CapabilityGenerate, succeedWith("mem://gen-out", goodMetrics))
			master = newScripted("master", model.CapabilityMaster, succeedWith("mem://master-out", goodMetrics))
			reg.Register(gen)
			reg.Register(master)
			start()
		})

		It("runs a generate job to completion", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationGenerate,
				Tier:      model.TierPremium,
				Traits:    model.InputTraits{DurationSeconds: 30, Genre: "jazz"},
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCompleted))
			Expect(final.ErrorCode).To(BeEmpty())
			Expect(final.Progress).To(BeNumerically("==", 100))
			Expect(final.ResultRef).To(Equal("mem://master-out"))
			Expect(final.TotalCost).To(BeNumerically("~", 0.2, 1e-9))
		})

		It("feeds each step's output into its dependent", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationGenerate,
				Tier:      model.TierPremium,
				Traits:    model.InputTraits{DurationSeconds: 30},
			})

			waitTerminal(job.ID)
			Expect(master.calls()).To(Equal(1))
			Expect(master.request(0).InputRef).To(Equal("mem://gen-out"))
		})

		It("archives the settled job", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationGenerate,
				Tier:      model.TierPremium,
			})
			waitTerminal(job.ID)

			Eventually(func() int {
				out, _ := history.ListByOwner(ctx, "alice", store.HistoryFilter{})
				return len(out)
			}, time.Second, 5*time.Millisecond).Should(Equal(1))
		})

		It("emits a terminal progress update", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationGenerate,
				Tier:      model.TierPremium,
			})
			waitTerminal(job.ID)

			Eventually(func() bool {
				update, ok := pub.Snapshot(job.ID)
				return ok && update.Terminal
			}, time.Second, 5*time.Millisecond).Should(BeTrue())
		})
	})

	Describe("provider retries", func() {
		It("retries transient failures on the same adapter", func() {
			flaky := newScripted("flaky", model.CapabilityMaster,
				failWith(adapter.Transient("flaky", errors.New("500"))),
				failWith(adapter.Transient("flaky", errors.New("500"))),
				succeedWith("mem://out", goodMetrics),
			)
			reg.Register(flaky)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCompleted))
			Expect(flaky.calls()).To(Equal(3))
			Expect(final.Plan[0].Attempt).To(Equal(3))
		})

		It("advances to the fallback when the primary is unavailable", func() {
			down := newScripted("down", model.CapabilityMaster,
				failWith(adapter.Unavailable("down", errors.New("503"))),
			)
			backup := newScripted("backup", model.CapabilityMaster, succeedWith("mem://backup-out", goodMetrics))
			backup.descriptor.Reliability = 0.5 // sorts after the primary
			reg.Register(down)
			reg.Register(backup)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCompleted))
			Expect(down.calls()).To(Equal(1))
			Expect(final.Plan[0].Adapter).To(Equal("backup"))
			Expect(final.ResultRef).To(Equal("mem://backup-out"))
		})

		It("fails when the only capable adapter stays unavailable", func() {
			down := newScripted("down", model.CapabilityMaster,
				failWith(adapter.Unavailable("down", errors.New("503"))),
			)
			reg.Register(down)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusFailed))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeProviderUnavailable))
			Expect(final.Plan[0].Status).To(Equal(model.StepStatusFallbackExhausted))
			Expect(down.calls()).To(Equal(1))
		})

		It("fails the job once the whole chain is exhausted", func() {
			a := newScripted("a", model.CapabilityMaster, failWith(adapter.Transient("a", errors.New("500"))))
			b := newScripted("b", model.CapabilityMaster, failWith(adapter.Transient("b", errors.New("500"))))
			b.descriptor.Reliability = 0.5
			reg.Register(a)
			reg.Register(b)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusFailed))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeProviderTransient))
			Expect(final.Plan[0].Status).To(Equal(model.StepStatusFallbackExhausted))
			Expect(a.calls()).To(Equal(cfg.Engine.MaxAttempts))
			Expect(b.calls()).To(Equal(cfg.Engine.MaxAttempts))
		})

		It("fails fast on provider quota errors", func() {
			a := newScripted("a", model.CapabilityMaster, failWith(adapter.Quota("a", errors.New("429"))))
			b := newScripted("b", model.CapabilityMaster)
			b.descriptor.Reliability = 0.5
			reg.Register(a)
			reg.Register(b)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusFailed))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeQuotaExceeded))
			Expect(final.Plan[0].Status).To(Equal(model.StepStatusFailed))
			Expect(a.calls()).To(Equal(1))
			Expect(b.calls()).To(Equal(0))
		})
	})

	Describe("quality gate", func() {
		It("re-runs a failing step with suggested adjustments, then passes", func() {
			master := newScripted("master", model.CapabilityMaster,
				succeedWith("mem://rough", poorMetrics),
				succeedWith("mem://polished", goodMetrics),
			)
			reg.Register(master)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCompleted))
			Expect(final.ResultRef).To(Equal("mem://polished"))
			Expect(master.calls()).To(Equal(2))
			Expect(final.Plan[0].Reports).To(HaveLen(2))
			Expect(master.request(1).Params).To(HaveKey("quality_boost"))
			// Both invocations billed.
			Expect(final.TotalCost).To(BeNumerically("~", 0.2, 1e-9))
		})

		It("fails critical steps stuck below threshold", func() {
			master := newScripted("master", model.CapabilityMaster,
				succeedWith("mem://rough", poorMetrics),
			)
			reg.Register(master)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusFailed))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeQualityThresholdNotMet))
			Expect(master.calls()).To(Equal(2)) // initial + one quality retry
		})

		It("accepts non-critical steps best-effort after the retry budget", func() {
			enhance := newScripted("enhance", model.CapabilityEnhance,
				succeedWith("mem://meh", poorMetrics),
			)
			reg.Register(enhance)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationEnhance,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCompleted))
			Expect(final.Plan[0].BestEffort).To(BeTrue())
			Expect(final.Plan[0].Status).To(Equal(model.StepStatusSucceeded))
		})
	})

	Describe("submission gates", func() {
		BeforeEach(func() {
			reg.Register(newScripted("master", model.CapabilityMaster))
			start()
		})

		It("rejects requests without an owner", func() {
			_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
				Operation: model.OperationMaster,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
			})
			Expect(err).To(MatchError(engine.ErrInvalidInput))
		})

		It("rejects non-generate operations without input audio", func() {
			_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationEnhance,
				Tier:      model.TierFree,
			})
			Expect(err).To(MatchError(engine.ErrInvalidInput))
		})

		It("rejects unknown tiers", func() {
			_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      "platinum",
				InputRef:  "mem://in",
			})
			Expect(err).To(MatchError(engine.ErrInvalidInput))
		})

		It("rejects plans over the tier budget without invoking providers", func() {
			expensive := newScripted("expensive", model.CapabilityStyleTransfer)
			expensive.descriptor.CostPerSecond = 1.0
			reg.Register(expensive)

			_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationStyleTransfer,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
				Traits:    model.InputTraits{DurationSeconds: 30},
			})
			Expect(err).To(MatchError(planner.ErrBudgetExceeded))
			Expect(expensive.calls()).To(Equal(0))

			// The failed submit is archived and the owner slot freed.
			out, _ := history.ListByOwner(ctx, "alice", store.HistoryFilter{})
			Expect(out).To(HaveLen(1))
			Expect(out[0].ErrorCode).To(Equal(model.ErrCodeBudgetExceeded))

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
			})
			waitTerminal(job.ID)
		})
	})

	Describe("global concurrency", func() {
		It("holds queued jobs until an execution slot frees", func() {
			cfg.Engine.MaxConcurrentJobs = 1
			release := make(chan struct{})
			enhance := newScripted("enhance", model.CapabilityEnhance, func(adapter.Request) (*adapter.Result, error) {
				<-release
				return &adapter.Result{OutputRef: "mem://enhance-out", Cost: 0.1, Metrics: goodMetrics}, nil
			})
			master := newScripted("master", model.CapabilityMaster, succeedWith("mem://master-out", goodMetrics))
			reg.Register(enhance)
			reg.Register(master)
			start()

			first := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationEnhance,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})
			second := submit(engine.SubmitRequest{
				OwnerID:   "bob",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			Eventually(enhance.calls, time.Second, 5*time.Millisecond).Should(Equal(1))

			// One slot: the second job dispatches nothing while the first
			// one executes.
			Consistently(master.calls, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(0))
			snap, err := eng.Status(second.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Status).To(Equal(model.JobStatusQueued))

			close(release)
			Expect(waitTerminal(first.ID).Status).To(Equal(model.JobStatusCompleted))
			Expect(waitTerminal(second.ID).Status).To(Equal(model.JobStatusCompleted))
		})
	})

	Describe("owner concurrency", func() {
		It("enforces the tier's concurrent job ceiling", func() {
			slow := newHanging("slow", model.CapabilityMaster)
			reg.Register(slow)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
			})

			_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
			})
			Expect(err).To(MatchError(engine.ErrQuotaExceeded))

			// Other owners are unaffected.
			other := submit(engine.SubmitRequest{
				OwnerID:   "bob",
				Operation: model.OperationMaster,
				Tier:      model.TierFree,
				InputRef:  "mem://in",
			})
			Expect(other.ID).NotTo(Equal(job.ID))

			Expect(eng.Cancel(ctx, job.ID, "alice")).To(Succeed())
			waitTerminal(job.ID)

			Eventually(func() error {
				_, err := eng.SubmitJob(ctx, engine.SubmitRequest{
					OwnerID:   "alice",
					Operation: model.OperationMaster,
					Tier:      model.TierFree,
					InputRef:  "mem://in",
				})
				return err
			}, time.Second, 10*time.Millisecond).Should(Succeed())
		})
	})

	Describe("Cancel", func() {
		var slow *hangingAdapter

		BeforeEach(func() {
			slow = newHanging("slow", model.CapabilityMaster)
			reg.Register(slow)
			start()
		})

		It("cancels a running job", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			Eventually(slow.calls, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
			Expect(eng.Cancel(ctx, job.ID, "alice")).To(Succeed())

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCancelled))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeCancelledByUser))
		})

		It("leaves adapter reliability untouched on user cancel", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			Eventually(slow.calls, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
			Expect(eng.Cancel(ctx, job.ID, "alice")).To(Succeed())
			waitTerminal(job.ID)

			desc, err := reg.Descriptor("slow")
			Expect(err).NotTo(HaveOccurred())
			Expect(desc.Reliability).To(BeNumerically("==", 0.9))
		})

		It("hides other owners' jobs", func() {
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			Expect(eng.Cancel(ctx, job.ID, "mallory")).To(MatchError(store.ErrNotFound))
			Expect(eng.Cancel(ctx, job.ID, "alice")).To(Succeed())
		})

		It("refuses to cancel settled jobs", func() {
			reg.Register(newScripted("fast", model.CapabilityEnhance))
			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationEnhance,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})
			waitTerminal(job.ID)

			Expect(eng.Cancel(ctx, job.ID, "alice")).To(MatchError(store.ErrTerminal))
		})
	})

	Describe("job deadline", func() {
		It("times out jobs exceeding the processing ceiling", func() {
			cfg.Engine.MaxProcessingTime = 50 * time.Millisecond
			slow := newHanging("slow", model.CapabilityMaster)
			reg.Register(slow)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusTimedOut))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeJobTimeout))
		})

		It("forcibly fails steps whose adapter never acknowledges cancellation", func() {
			cfg.Engine.MaxProcessingTime = 50 * time.Millisecond
			stuck := newStuck("stuck", model.CapabilityMaster)
			defer close(stuck.block)
			reg.Register(stuck)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusTimedOut))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeJobTimeout))
			Expect(final.Plan[0].Status).To(Equal(model.StepStatusFailed))
			Expect(stuck.calls()).To(Equal(1))
		})
	})

	Describe("engine shutdown", func() {
		It("marks interrupted jobs as shut down, not provider failures", func() {
			slow := newHanging("slow", model.CapabilityMaster)
			reg.Register(slow)
			start()

			job := submit(engine.SubmitRequest{
				OwnerID:   "alice",
				Operation: model.OperationMaster,
				Tier:      model.TierPremium,
				InputRef:  "mem://in",
			})

			Eventually(slow.calls, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
			stop()

			final := waitTerminal(job.ID)
			Expect(final.Status).To(Equal(model.JobStatusCancelled))
			Expect(final.ErrorCode).To(Equal(model.ErrCodeEngineShutdown))
		})
	})
})
