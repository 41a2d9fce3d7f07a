package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scenergy/scenesync/internal/models"
	syncsvc "github.com/scenergy/scenesync/internal/services/sync"
	"github.com/scenergy/scenesync/internal/state"
	"github.com/scenergy/scenesync/internal/txn"
	"github.com/scenergy/scenesync/test/testutil"
)

// treeWithMessages builds a single-product, single-session tree with
// count messages, the shape send-heavy workspaces converge to.
func treeWithMessages(count int) *models.Client {
	tree := testutil.DemoTree("bench-client")
	session := tree.Products[0].Sessions[0]

	for i := 0; i < count; i++ {
		msg := models.NewUserMessage(fmt.Sprintf("Render variant %d on oak flooring", i))
		session.Messages = append(session.Messages, msg)
	}

	return tree
}

func BenchmarkCloneWithSession(b *testing.B) {
	messageCounts := []int{10, 100, 1000}

	for _, count := range messageCounts {
		b.Run(fmt.Sprintf("%dMessages", count), func(b *testing.B) {
			tree := treeWithMessages(count)
			msg := models.NewUserMessage("one more")

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, err := tree.CloneWithSession("prod-chair", "sess-showroom", func(s *models.Session) {
					s.Messages = append(s.Messages, msg)
				})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAddMessagesToSession(b *testing.B) {
	messageCounts := []int{10, 100, 1000}

	for _, count := range messageCounts {
		b.Run(fmt.Sprintf("%dMessages", count), func(b *testing.B) {
			logger := testutil.NewTestLogger()
			locks := txn.NewLockTable(time.Second, logger)
			manager := txn.NewManager(locks, 1, time.Millisecond, logger)

			var root atomic.Pointer[models.Client]
			root.Store(treeWithMessages(count))

			persist := func(context.Context, string, string, *models.Session) error { return nil }
			svc := syncsvc.NewService(manager, persist, func(c *models.Client) {
				root.Store(c)
			}, nil, logger)

			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				err := svc.AddMessagesToSession(ctx, root.Load, "bench-client", "prod-chair", "sess-showroom",
					models.NewUserMessage("Render on walnut"),
					models.NewAssistantMessage(fmt.Sprintf("job-%d", i)))
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSnapshotSave(b *testing.B) {
	messageCounts := []int{10, 100, 1000}

	for _, count := range messageCounts {
		b.Run(fmt.Sprintf("%dMessages", count), func(b *testing.B) {
			store, err := state.NewJSONStore(b.TempDir(), testutil.NewTestLogger())
			if err != nil {
				b.Fatal(err)
			}
			defer store.Close()

			snap := &state.Snapshot{
				Client:    treeWithMessages(count),
				FetchedAt: time.Now().UTC(),
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := store.Save("bench-client", snap); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSnapshotLoad(b *testing.B) {
	messageCounts := []int{10, 100, 1000}

	for _, count := range messageCounts {
		b.Run(fmt.Sprintf("%dMessages", count), func(b *testing.B) {
			store, err := state.NewJSONStore(b.TempDir(), testutil.NewTestLogger())
			if err != nil {
				b.Fatal(err)
			}
			defer store.Close()

			snap := &state.Snapshot{
				Client:    treeWithMessages(count),
				FetchedAt: time.Now().UTC(),
			}
			if err := store.Save("bench-client", snap); err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := store.Load("bench-client"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkLockTableAcquireRelease(b *testing.B) {
	logger := testutil.NewTestLogger()
	locks := txn.NewLockTable(time.Second, logger)
	key := txn.SessionKey("bench-client", "prod-chair", "sess-showroom")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := locks.Acquire(ctx, key); err != nil {
			b.Fatal(err)
		}
		locks.Increment(key)
		locks.Release(key)
	}
}
