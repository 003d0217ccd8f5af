// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the outbound job record.

package outbound

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() Job {
	return NewTextJob("+5511999999999", "Olá! Como posso ajudar?", "m1", "corr-1", "m1")
}

func TestNewTextJob(t *testing.T) {
	job := testJob()
	assert.Equal(t, TypeText, job.MessageType)
	assert.Equal(t, "m1", job.IdempotencyKey)
	assert.Equal(t, "m1", job.InboundEventID)
	assert.NoError(t, job.Validate())
}

func TestJobValidate(t *testing.T) {
	cases := map[string]func(*Job){
		"missing plus":        func(j *Job) { j.To = "5511999999999" },
		"leading zero":        func(j *Job) { j.To = "+05511999999999" },
		"not a number":        func(j *Job) { j.To = "+55abc" },
		"too short":           func(j *Job) { j.To = "+551" },
		"empty type":          func(j *Job) { j.MessageType = "" },
		"text without body":   func(j *Job) { j.Text = "" },
		"missing idempotency": func(j *Job) { j.IdempotencyKey = "" },
		"missing correlation": func(j *Job) { j.CorrelationID = "" },
	}
	for name, mutate := range cases {
		job := testJob()
		mutate(&job)
		assert.Error(t, job.Validate(), name)
	}
}

func TestJobValidateMasksPhone(t *testing.T) {
	job := testJob()
	job.To = "5511999999999"
	err := job.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "5511999999999")
	assert.Contains(t, err.Error(), "*")
}

func TestJobHashDeterministic(t *testing.T) {
	h1, err := testJob().Hash()
	require.NoError(t, err)
	h2, err := testJob().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	other := testJob()
	other.Text = "Outra resposta."
	h3, err := other.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestJobHashIgnoresUnsetOptionals(t *testing.T) {
	bare := testJob()
	withEmpties := testJob()
	withEmpties.MediaID = ""
	withEmpties.Buttons = nil

	h1, err := bare.Hash()
	require.NoError(t, err)
	h2, err := withEmpties.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	located := testJob()
	located.Location = &Location{Latitude: -23.55, Longitude: -46.63}
	h3, err := located.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestJobDedupeKey(t *testing.T) {
	job := testJob()
	key, err := job.DedupeKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "outbound:"))

	hash, err := job.Hash()
	require.NoError(t, err)
	assert.Equal(t, "outbound:"+hash, key)
}
