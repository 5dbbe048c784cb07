package gatehouse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/WelcomerTeam/RealRock/bucketstore"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// IdentifyProvider gates shard identification so concurrent shards respect
// the gateway's session start limit.
type IdentifyProvider interface {
	Identify(ctx context.Context, shard *Shard) error
}

// IdentifyViaBuckets serializes identifies through local rate-limit buckets.
// Sufficient for a single process; multi-process setups need an external
// coordinator.
type IdentifyViaBuckets struct {
	bucketStore *bucketstore.BucketStore
}

func NewIdentifyViaBuckets() *IdentifyViaBuckets {
	return &IdentifyViaBuckets{
		bucketStore: bucketstore.NewBucketStore(),
	}
}

func (i *IdentifyViaBuckets) Identify(_ context.Context, shard *Shard) error {
	method := sha256.New()
	method.Write([]byte(shard.client.configuration.Load().BotToken))
	tokenHash := hex.EncodeToString(method.Sum(nil))

	bucketName := fmt.Sprintf("identify:%s", tokenHash)

	i.bucketStore.CreateBucket(bucketName, 1, IdentifyRateLimit)

	err := i.bucketStore.WaitForBucket(bucketName)
	if err != nil {
		return fmt.Errorf("failed to wait for bucket: %w", err)
	}

	return nil
}
