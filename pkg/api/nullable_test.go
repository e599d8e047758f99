package api_test

import (
	"encoding/json"
	"testing"

	"training-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateActivityRequestNullable(t *testing.T) {
	var req api.UpdateActivityRequest
	require.NoError(t, json.Unmarshal([]byte(`{"rpe": null, "workout_type": "tempo"}`), &req))

	assert.Equal(t, api.Null[int](), req.Rpe)
	assert.Equal(t, api.NewNullable("tempo"), req.WorkoutType)
	assert.False(t, req.BonkStatus.Set)
	assert.Nil(t, req.Name)

	assert.Error(t, json.Unmarshal([]byte(`{"rpe": "high"}`), &req))
}
