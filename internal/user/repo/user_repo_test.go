package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestTranslateUniqueViolations(t *testing.T) {
	email := &pq.Error{Code: "23505", Constraint: "users_email_key"}
	require.ErrorIs(t, translate(fmt.Errorf("exec: %w", email)), ErrDuplicateEmail)

	username := &pq.Error{Code: "23505", Constraint: "users_username_key"}
	require.ErrorIs(t, translate(username), ErrDuplicateUsername)

	other := &pq.Error{Code: "23505", Constraint: "user_badges_pkey"}
	require.Same(t, error(other), translate(other))

	fk := &pq.Error{Code: "23503", Constraint: "users_email_key"}
	require.Same(t, error(fk), translate(fk))

	plain := errors.New("boom")
	require.Equal(t, plain, translate(plain))
}
