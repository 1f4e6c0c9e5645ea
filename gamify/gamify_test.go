package gamify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "questline/adapters/memory"
	"questline/catalog"
	"questline/core"
	"questline/engine"
	"questline/realtime"
)

func drain(ch <-chan core.Event) []core.EventType {
	var out []core.EventType
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestNewDefaultsSeedEmbeddedCatalog(t *testing.T) {
	hub := realtime.NewHub()
	_, ch := hub.Subscribe(32)
	svc, err := New(WithRealtime(hub), WithDispatchMode(engine.DispatchSync))
	require.NoError(t, err)

	quests, err := svc.ListQuests(context.Background(), engine.QuestFilter{})
	require.NoError(t, err)
	assert.Len(t, quests, len(catalog.Default().Quests))

	res, err := svc.CompleteQuest(context.Background(), "demo", "register-address", "")
	require.NoError(t, err)
	assert.True(t, res.Applied)

	types := drain(ch)
	assert.Contains(t, types, core.EventQuestCompleted)
	assert.Contains(t, types, core.EventXPGained)
	assert.Contains(t, types, core.EventPointsAwarded)
}

func TestWithStorageSkipsDefaultCatalog(t *testing.T) {
	store := mem.New()
	svc, err := New(WithStorage(store), WithDispatchMode(engine.DispatchSync))
	require.NoError(t, err)

	quests, err := svc.ListQuests(context.Background(), engine.QuestFilter{})
	require.NoError(t, err)
	assert.Empty(t, quests)
}

func TestEventHooks(t *testing.T) {
	var seen []core.EventType
	svc, err := New(
		WithDispatchMode(engine.DispatchSync),
		WithEventHook(func(_ context.Context, e core.Event) { seen = append(seen, e.Type) }),
	)
	require.NoError(t, err)

	_, err = svc.SpinWheel(context.Background(), "demo")
	require.NoError(t, err)
	assert.Contains(t, seen, core.EventDailySpin)
}

type storageOnly struct{ engine.Storage }

func TestCatalogNeedsSeeder(t *testing.T) {
	_, err := New(WithStorage(storageOnly{mem.New()}), WithCatalog(catalog.Default()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be seeded")

	assert.Panics(t, func() { MustNew(WithStorage(storageOnly{mem.New()}), WithCatalog(catalog.Default())) })
}
