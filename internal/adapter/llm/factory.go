package llm

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewGenerator returns a MockClient when mock is set and an OpenAIClient otherwise.
func NewGenerator(mock bool, baseURL, apiKey string, httpClient *http.Client) Generator {
	if mock {
		log.Info().Str("component", "llm").Msg("GOGO_MODE=MOCK detected, using mock generator")
		return NewMockClient()
	}
	return NewOpenAIClient(baseURL, apiKey, httpClient)
}
