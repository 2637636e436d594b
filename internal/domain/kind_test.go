package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" education_reminder ")
	require.NoError(t, err)
	assert.Equal(t, KindEducationReminder, k)

	_, err = ParseKind("CONDITION_ALERT")
	require.Error(t, err)
}

func TestKindsIsACopy(t *testing.T) {
	t.Parallel()

	ks := Kinds()
	require.Len(t, ks, 4)
	ks[0] = "BROKEN"
	assert.Equal(t, KindEducationReminder, Kinds()[0])
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), k.String())
	}
}
