package journal_test

import (
	"context"
	"os"
	"testing"

	feewardtesting "github.com/feeward/feeward/utils/pkg/testing"
)

var sharedDB *feewardtesting.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := feewardtesting.NewLogger()

	var err error
	sharedDB, err = feewardtesting.NewPostgres(ctx, log, nil)
	if err != nil {
		log.Error("failed to start PostgreSQL container", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}
