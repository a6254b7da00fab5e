package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublicUserIDSurvivesJavaScriptNumbers(t *testing.T) {
	const id int64 = 2110429194046410753 // above 2^53
	u := &User{ID: id, Username: "rina", Email: "rina@x.com", PasswordHash: "$2a$10$x", EcoLevel: 1, CreatedAt: time.Unix(0, 0).UTC()}

	raw, err := json.Marshal(u.Public())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "password")

	// a generic decoder reads JSON numbers as float64, as a browser does
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Equal(t, "2110429194046410753", generic["user_id"])

	var back PublicUser
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, id, back.ID)
}
