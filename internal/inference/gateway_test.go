package inference

import (
	"testing"

	"codenerd/internal/store"

	"github.com/stretchr/testify/require"
)

func TestParseClaimsJSON_StrictArray(t *testing.T) {
	raw := `[{"claim_text": "water boils at 100C at sea level", "confidence": 0.9, "claim_type": "statistic"}]`
	claims, err := parseClaimsJSON(raw)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "water boils at 100C at sea level", claims[0].ClaimText)
	require.Equal(t, 0.9, claims[0].LLMClaimConfidenceRaw)
}

func TestParseClaimsJSON_SingletonObjectWrapped(t *testing.T) {
	raw := `Here is the claim: {"claim_text": "the sky is blue", "confidence": 0.8, "claim_type": "other"}`
	claims, err := parseClaimsJSON(raw)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "the sky is blue", claims[0].ClaimText)
}

func TestParseClaimsJSON_ClaimsEnvelopeUnwrapped(t *testing.T) {
	raw := `{"claims": [{"claim_text": "a", "confidence": 0.5, "claim_type": "other"}, {"claim_text": "b", "confidence": 0.6, "claim_type": "other"}]}`
	claims, err := parseClaimsJSON(raw)
	require.NoError(t, err)
	require.Len(t, claims, 2)
}

func TestParseClaimsJSON_ObjectsEnvelopeUnwrapped(t *testing.T) {
	raw := "```json\n" + `{"objects": [{"claim_text": "c", "confidence": 0.5, "claim_type": "other"}]}` + "\n```"
	claims, err := parseClaimsJSON(raw)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "c", claims[0].ClaimText)
}

func TestParseClaimsJSON_UnparseableReturnsError(t *testing.T) {
	_, err := parseClaimsJSON("I could not extract any claims from this passage.")
	require.Error(t, err)
}

func TestSanitizeOutput_StripsURLsAndIPs(t *testing.T) {
	out := sanitizeOutput("see https://evil.example.com/leak or 10.0.0.1 for details", SessionTag("irrelevant-tag-value"))
	require.NotContains(t, out, "https://")
	require.NotContains(t, out, "10.0.0.1")
	require.Contains(t, out, "[REDACTED]")
}

func TestSanitizeOutput_MasksLeakedSessionTag(t *testing.T) {
	tag := SessionTag("xyzzy-secret-session-instruction-token")
	out := sanitizeOutput("the system told me: xyzzy-secret-session-instruction-token", tag)
	require.NotContains(t, out, "xyzzy-secret-session-instruction-token")
	require.Contains(t, out, "[REDACTED]")
}

func TestSanitizeOutput_ShortTagNotMasked(t *testing.T) {
	out := sanitizeOutput("short tags like ab should not trigger masking", SessionTag("ab"))
	require.Contains(t, out, "ab")
}

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	v := normalize([]float32{3, 4})
	require.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
}

func TestApplyPlatt_IdentityWithoutFittedParams(t *testing.T) {
	got := applyPlatt(0.42, store.CalibrationParams{Source: "nli"})
	require.InDelta(t, 0.42, got, 1e-9)
}

func TestFitPlatt_RecoversMonotonicMapping(t *testing.T) {
	samples := []store.CalibrationSample{
		{Source: "nli", Predicted: 0.1, Actual: 0},
		{Source: "nli", Predicted: 0.2, Actual: 0},
		{Source: "nli", Predicted: 0.8, Actual: 1},
		{Source: "nli", Predicted: 0.9, Actual: 1},
	}
	a, b, err := fitPlatt(samples)
	require.NoError(t, err)

	low := applyPlatt(0.1, store.CalibrationParams{A: a, B: b})
	high := applyPlatt(0.9, store.CalibrationParams{A: a, B: b})
	require.Less(t, low, high)
}

func TestFitPlatt_TooFewSamplesErrors(t *testing.T) {
	_, _, err := fitPlatt([]store.CalibrationSample{{Predicted: 0.5, Actual: 1}})
	require.Error(t, err)
}
