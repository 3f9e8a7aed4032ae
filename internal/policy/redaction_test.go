package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +44 (191) 334-2000 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	assert.True(t, changed)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		assert.Contains(t, out, marker)
	}
	assert.NotContains(t, out, "sam@example.com")
}

func TestRedactPIILeavesStudyTextAlone(t *testing.T) {
	input := "Carlill v Carbolic Smoke Ball Co [1893] established unilateral offers."
	out, changed := RedactPII(input)
	assert.False(t, changed)
	assert.Equal(t, input, out)
}

func TestRedactPIIMasksNationalInsuranceNumbers(t *testing.T) {
	out, changed := RedactPII("My NI number is AB 12 34 56 C, thanks.")
	assert.True(t, changed)
	assert.Equal(t, "My NI number is [REDACTED_NINO], thanks.", out)
}

func TestRedactPIIMasksLowercaseNationalInsuranceNumbers(t *testing.T) {
	out, changed := RedactPII("NI ab123456c.")
	assert.True(t, changed)
	assert.Equal(t, "NI [REDACTED_NINO].", out)
}

func TestRedactPIICardBeatsPhone(t *testing.T) {
	out, _ := RedactPII("4111-1111-1111-1111")
	assert.Equal(t, "[REDACTED_CARD]", out)
}
