package kpata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalizedMessageLocales(t *testing.T) {
	uz := localizedMessage("uz", "job_completed")
	ru := localizedMessage("ru", "job_completed")
	assert.NotEmpty(t, uz)
	assert.NotEmpty(t, ru)
	assert.NotEqual(t, uz, ru)
}

func TestLocalizedMessageFallsBackToUzbek(t *testing.T) {
	assert.Equal(t, localizedMessage("uz", "moderation_ban"), localizedMessage("de", "moderation_ban"))
	assert.Equal(t, localizedMessage("uz", "moderation_ban"), localizedMessage("", "moderation_ban"))
}

func TestLocalizedMessageFormatsArguments(t *testing.T) {
	msg := localizedMessage("ru", "admission_cooldown", 5)
	assert.Contains(t, msg, "5")
}
