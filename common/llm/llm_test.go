package llm_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"masterchain.app/orchestrator/common/llm"
)

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "bard", APIKey: "key"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	DescribeTable("selects the provider implementation",
		func(provider, wantModel string) {
			client, err := llm.New(llm.Config{Provider: provider, APIKey: "key"})
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Model()).To(Equal(wantModel))
		},
		Entry("openai", llm.ProviderOpenAI, "gpt-4o-mini"),
		Entry("default is openai", "", "gpt-4o-mini"),
		Entry("anthropic", llm.ProviderAnthropic, "claude-sonnet-4-5-20250514"),
	)

	It("honors a configured model", func() {
		client, err := llm.New(llm.Config{APIKey: "key", Model: "gpt-4o"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("gpt-4o"))
	})
})

var _ = Describe("GenerateSchema", func() {
	type shape struct {
		Name  string `json:"name" jsonschema:"description=The name"`
		Count int    `json:"count"`
	}

	It("reflects a strict object schema", func() {
		schema := llm.GenerateSchema[shape]()

		raw, err := json.Marshal(schema)
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded["type"]).To(Equal("object"))
		Expect(decoded["additionalProperties"]).To(Equal(false))

		props, ok := decoded["properties"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(props).To(HaveKey("name"))
		Expect(props).To(HaveKey("count"))
	})
})

var _ = Describe("Temp", func() {
	It("returns a pointer to the value", func() {
		t := llm.Temp(0.1)
		Expect(t).NotTo(BeNil())
		Expect(*t).To(Equal(0.1))
	})
})
