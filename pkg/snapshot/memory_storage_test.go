package snapshot_test

import (
	"testing"

	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/snapshot/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) snapshot.Storage { return snapshot.NewMemoryStorage() })
}
