//go:build integration

package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/events/wire"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

func encode(t *testing.T, change listings.Change) []byte {
	t.Helper()
	payload, err := wire.EncodeChange(change)
	require.NoError(t, err)
	return payload
}
