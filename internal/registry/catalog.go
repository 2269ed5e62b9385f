package registry

import (
	"fmt"
	"strings"
	"time"

	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/internal/adapter"
	"masterchain.app/orchestrator/internal/model"
)

// catalogEntry is the static shape of one known provider. Reliability seeds
// reflect historical behavior and drift via the EMA once traffic flows.
type catalogEntry struct {
	descriptor model.ModelDescriptor
	endpoint   string
}

// defaultCatalog lists the provider microservices the chain can dispatch to.
func defaultCatalog() []catalogEntry {
	return []catalogEntry{
		{
			descriptor: model.ModelDescriptor{
				Name:               "music_gen",
				Capabilities:       []model.Capability{model.CapabilityGenerate},
				CostPerSecond:      0.010,
				MaxDurationSeconds: 300,
				Reliability:        0.90,
				Healthy:            true,
			},
			endpoint: "http://music-gen-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "stable_audio",
				Capabilities:       []model.Capability{model.CapabilityGenerate},
				CostPerSecond:      0.020,
				MaxDurationSeconds: 90,
				Reliability:        0.85,
				Healthy:            true,
			},
			endpoint: "http://stable-audio-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "beethoven_ai",
				Capabilities:       []model.Capability{model.CapabilityGenerate},
				CostPerSecond:      0.030,
				MaxDurationSeconds: 480,
				Reliability:        0.75,
				Healthy:            true,
			},
			endpoint: "http://beethoven-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "mureka",
				Capabilities:       []model.Capability{model.CapabilityGenerate, model.CapabilityStyleTransfer},
				CostPerSecond:      0.025,
				MaxDurationSeconds: 240,
				Reliability:        0.70,
				Healthy:            true,
			},
			endpoint: "http://mureka-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "audiocraft",
				Capabilities:       []model.Capability{model.CapabilityEnhance, model.CapabilityMaster},
				CostPerSecond:      0.015,
				MaxDurationSeconds: 600,
				Reliability:        0.85,
				Healthy:            true,
			},
			endpoint: "http://audiocraft-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "jukebox",
				Capabilities:       []model.Capability{model.CapabilityStyleTransfer},
				CostPerSecond:      0.030,
				MaxDurationSeconds: 240,
				Reliability:        0.70,
				Healthy:            true,
			},
			endpoint: "http://jukebox-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "aces",
				Capabilities:       []model.Capability{model.CapabilityMaster, model.CapabilityEnhance},
				CostPerSecond:      0.020,
				MaxDurationSeconds: 1200,
				Reliability:        0.90,
				Healthy:            true,
			},
			endpoint: "http://aces-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "suni",
				Capabilities:       []model.Capability{model.CapabilityEnhance},
				CostPerSecond:      0.015,
				MaxDurationSeconds: 600,
				Reliability:        0.85,
				Healthy:            true,
			},
			endpoint: "http://suni-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "melody_rnn",
				Capabilities:       []model.Capability{model.CapabilityMelody},
				CostPerSecond:      0.008,
				MaxDurationSeconds: 60,
				Reliability:        0.85,
				Healthy:            true,
			},
			endpoint: "http://melody-rnn-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "music_vae",
				Capabilities:       []model.Capability{model.CapabilityMelody},
				CostPerSecond:      0.010,
				MaxDurationSeconds: 120,
				Reliability:        0.80,
				Healthy:            true,
			},
			endpoint: "http://music-vae-service:8000",
		},
		{
			descriptor: model.ModelDescriptor{
				Name:               "tepand_diff_rhythm",
				Capabilities:       []model.Capability{model.CapabilityRhythm},
				CostPerSecond:      0.012,
				MaxDurationSeconds: 300,
				Reliability:        0.75,
				Healthy:            true,
			},
			endpoint: "http://rhythm-service:8000",
		},
	}
}

// Seed registers the default provider catalog as HTTP adapters. An endpoint
// override replaces every provider's base URL, which keeps development
// against a single stub service simple.
func Seed(r *Registry, cfg config.ProvidersConfig) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	for _, entry := range defaultCatalog() {
		endpoint := entry.endpoint
		if cfg.BaseURLOverride != "" {
			endpoint = fmt.Sprintf("%s/%s", strings.TrimRight(cfg.BaseURLOverride, "/"), entry.descriptor.Name)
		}
		r.Register(adapter.NewHTTPAdapter(entry.descriptor, endpoint, timeout))
	}
}
