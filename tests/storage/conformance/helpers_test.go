package conformance

import (
	"os"
	"strconv"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// noCloseStore wraps a storage.Store and makes Close() a no-op.
// Used by the Cassandra backend test so individual sub-tests don't close the shared gateway.
type noCloseStore struct {
	storage.Store
}

func (s *noCloseStore) Close() {}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
