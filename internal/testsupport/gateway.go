package testsupport

import (
	"context"
	"testing"

	"folderwatch/internal/config"
	"folderwatch/internal/logging"
	"folderwatch/internal/storage"
)

// MustOpenGateway connects a storage.Gateway with tables created and
// registers cleanup.
func MustOpenGateway(t testing.TB, cfg *config.Config) *storage.Gateway {
	t.Helper()

	gw := storage.New(cfg, logging.NewNop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("gateway.Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = gw.Disconnect()
	})
	if err := gw.CreateAllTables(context.Background()); err != nil {
		t.Fatalf("gateway.CreateAllTables: %v", err)
	}
	return gw
}
