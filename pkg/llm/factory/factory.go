package factory

import (
	"fmt"

	"focusroom-be/pkg/llm"
	"focusroom-be/pkg/llm/huggingface"
	"focusroom-be/pkg/llm/ollama"
)

func NewLLMProvider(providerType, modelName, baseURL, hfKey string) (llm.LLMProvider, error) {
	switch providerType {
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case "huggingface":
		if hfKey == "" {
			return nil, fmt.Errorf("huggingface provider requires HUGGINGFACE_API_KEY")
		}
		return huggingface.NewHuggingFaceProvider(hfKey, "", modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
