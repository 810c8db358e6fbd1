package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

func TestRegistry_CreateOrUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cred := vault.Credential{AccessToken: "tok"}

	t.Run("first login inserts and fires added", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		r := NewRegistry(store, &MockResolver{})

		var events []Event
		r.Events().Subscribe(func(e Event) { events = append(events, e) })

		ident, err := r.CreateOrUpdate(ctx, Profile{
			LoginID:    "octocat",
			Email:      "octo@example.com",
			ProfileURL: "https://github.com/octocat",
		}, &fakeClient{}, cred)
		require.NoError(t, err)
		assert.Equal(t, "octocat", ident.LoginID)

		require.Len(t, events, 1)
		assert.Equal(t, EventAdded, events[0].Kind)
		assert.Equal(t, "octocat", events[0].Identity.LoginID)

		// Credential was persisted.
		got, err := store.Get(ctx, "octocat")
		require.NoError(t, err)
		assert.Equal(t, cred, got)
	})

	t.Run("same login id updates and fires exactly one updated", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		r := NewRegistry(store, &MockResolver{})

		oldClient := &fakeClient{}
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, oldClient, cred)
		require.NoError(t, err)

		var events []Event
		r.Events().Subscribe(func(e Event) { events = append(events, e) })

		newCred := vault.Credential{AccessToken: "tok2"}
		ident, err := r.CreateOrUpdate(ctx, Profile{
			LoginID:     "OctoCat",
			DisplayName: "The Octocat",
		}, &fakeClient{}, newCred)
		require.NoError(t, err)
		assert.Equal(t, "The Octocat", ident.DisplayName)

		require.Len(t, events, 1)
		assert.Equal(t, EventUpdated, events[0].Kind)

		// Replaced handle was released, registry still holds one identity.
		assert.True(t, oldClient.closed)
		assert.Len(t, r.List(), 1)

		got, err := store.Get(ctx, "octocat")
		require.NoError(t, err)
		assert.Equal(t, newCred, got)
	})

	t.Run("profile url match merges a renamed account", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		r := NewRegistry(store, &MockResolver{})

		_, err := r.CreateOrUpdate(ctx, Profile{
			LoginID:    "oldname",
			ProfileURL: "https://github.com/id/42",
		}, &fakeClient{}, cred)
		require.NoError(t, err)

		var events []Event
		r.Events().Subscribe(func(e Event) { events = append(events, e) })

		_, err = r.CreateOrUpdate(ctx, Profile{
			LoginID:    "newname",
			ProfileURL: "https://github.com/id/42",
		}, &fakeClient{}, cred)
		require.NoError(t, err)

		require.Len(t, events, 1)
		assert.Equal(t, EventUpdated, events[0].Kind)

		idents := r.List()
		require.Len(t, idents, 1)
		assert.Equal(t, "newname", idents[0].LoginID)

		// Stale credential under the old login id was cleaned up.
		_, err = store.Get(ctx, "oldname")
		assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
	})

	t.Run("ambiguous merge target is rejected", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		r := NewRegistry(store, &MockResolver{})

		aliceCred := vault.Credential{AccessToken: "tok-alice-old"}
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "alice", ProfileURL: "https://github.com/id/1"}, &fakeClient{}, aliceCred)
		require.NoError(t, err)
		_, err = r.CreateOrUpdate(ctx, Profile{LoginID: "bob", ProfileURL: "https://github.com/id/2"}, &fakeClient{}, vault.Credential{AccessToken: "tok-bob"})
		require.NoError(t, err)

		var events int
		r.Events().Subscribe(func(Event) { events++ })

		// Login id says alice, profile url says bob: corrupted state.
		_, err = r.CreateOrUpdate(ctx, Profile{LoginID: "alice", ProfileURL: "https://github.com/id/2"}, &fakeClient{}, vault.Credential{AccessToken: "tok-ambiguous"})
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
		assert.Zero(t, events)
		assert.Len(t, r.List(), 2)

		// The vault is untouched: alice still holds her old credential.
		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, aliceCred, got)
	})

	t.Run("merge turning ambiguous during save is rolled back", func(t *testing.T) {
		t.Parallel()

		mem := vault.NewMemoryStore()
		store := &hookStore{Store: mem}
		r := NewRegistry(store, &MockResolver{})

		aliceCred := vault.Credential{AccessToken: "tok-alice-old"}
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "alice", ProfileURL: "https://github.com/id/1"}, &fakeClient{}, aliceCred)
		require.NoError(t, err)

		// While alice's new credential is being written, a concurrent
		// login inserts bob under the profile url alice is claiming.
		var once sync.Once
		store.beforeSave = func(string) {
			once.Do(func() {
				_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "bob", ProfileURL: "https://github.com/id/2"}, &fakeClient{}, vault.Credential{AccessToken: "tok-bob"})
				assert.NoError(t, err)
			})
		}

		_, err = r.CreateOrUpdate(ctx, Profile{LoginID: "alice", ProfileURL: "https://github.com/id/2"}, &fakeClient{}, vault.Credential{AccessToken: "tok-ambiguous"})
		assert.ErrorIs(t, err, ErrDuplicateIdentity)

		// The overwritten credential was restored and bob kept his.
		got, err := mem.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, aliceCred, got)
		got, err = mem.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "tok-bob", got.AccessToken)

		idents := r.List()
		require.Len(t, idents, 2)
		assert.Equal(t, "https://github.com/id/1", idents[0].ProfileURL)
	})

	t.Run("vault save failure leaves registry untouched", func(t *testing.T) {
		t.Parallel()

		store := &MockStore{}
		store.On("Get", mock.Anything, "octocat").Return(vault.Credential{}, vault.ErrCredentialNotFound)
		store.On("Save", mock.Anything, "octocat", cred).Return(errors.New("vault down"))

		r := NewRegistry(store, &MockResolver{})
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, &fakeClient{}, cred)
		require.Error(t, err)
		assert.Empty(t, r.List())
		store.AssertExpectations(t)
	})

	t.Run("empty login id is rejected", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(vault.NewMemoryStore(), &MockResolver{})
		_, err := r.CreateOrUpdate(ctx, Profile{}, nil, cred)
		assert.ErrorIs(t, err, ErrMissingLoginID)
	})
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cred := vault.Credential{AccessToken: "tok"}

	t.Run("removes identity, credential and handle", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		r := NewRegistry(store, &MockResolver{})

		client := &fakeClient{}
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, client, cred)
		require.NoError(t, err)

		var events []Event
		r.Events().Subscribe(func(e Event) { events = append(events, e) })

		require.NoError(t, r.Remove(ctx, "OCTOCAT"))

		require.Len(t, events, 1)
		assert.Equal(t, EventRemoved, events[0].Kind)
		assert.True(t, client.closed)

		_, err = r.Find("octocat")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "octocat")
		assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
	})

	t.Run("unknown login id returns not found without events", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(vault.NewMemoryStore(), &MockResolver{})

		var events int
		r.Events().Subscribe(func(Event) { events++ })

		err := r.Remove(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, events)
	})

	t.Run("vault delete failure still reports success", func(t *testing.T) {
		t.Parallel()

		store := &MockStore{}
		store.On("Get", mock.Anything, "octocat").Return(vault.Credential{}, vault.ErrCredentialNotFound)
		store.On("Save", mock.Anything, "octocat", cred).Return(nil)
		store.On("Delete", mock.Anything, "octocat").Return(errors.New("vault down"))

		r := NewRegistry(store, &MockResolver{})
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, &fakeClient{}, cred)
		require.NoError(t, err)

		assert.NoError(t, r.Remove(ctx, "octocat"))
		assert.Empty(t, r.List())
		store.AssertExpectations(t)
	})
}

func TestRegistry_Restore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("restores all persisted identities without events", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		require.NoError(t, store.Save(ctx, "alice", vault.Credential{AccessToken: "a"}))
		require.NoError(t, store.Save(ctx, "bob", vault.Credential{AccessToken: "b"}))

		resolver := &MockResolver{}
		resolver.On("Resolve", mock.Anything, vault.Credential{AccessToken: "a"}).
			Return(Profile{LoginID: "alice"}, &fakeClient{}, nil)
		resolver.On("Resolve", mock.Anything, vault.Credential{AccessToken: "b"}).
			Return(Profile{LoginID: "bob"}, &fakeClient{}, nil)

		r := NewRegistry(store, resolver)

		var events int
		r.Events().Subscribe(func(Event) { events++ })

		require.NoError(t, r.Restore(ctx, []string{"alice", "bob"}))

		idents := r.List()
		require.Len(t, idents, 2)
		assert.Equal(t, "alice", idents[0].LoginID)
		assert.Equal(t, "bob", idents[1].LoginID)
		assert.Zero(t, events)
		resolver.AssertExpectations(t)
	})

	t.Run("one failing resolution does not abort the rest", func(t *testing.T) {
		t.Parallel()

		store := vault.NewMemoryStore()
		require.NoError(t, store.Save(ctx, "alice", vault.Credential{AccessToken: "a"}))
		require.NoError(t, store.Save(ctx, "bob", vault.Credential{AccessToken: "b"}))

		resolver := &MockResolver{}
		resolver.On("Resolve", mock.Anything, vault.Credential{AccessToken: "a"}).
			Return(Profile{}, nil, errors.New("token revoked"))
		resolver.On("Resolve", mock.Anything, vault.Credential{AccessToken: "b"}).
			Return(Profile{LoginID: "bob"}, &fakeClient{}, nil)

		r := NewRegistry(store, resolver)
		require.NoError(t, r.Restore(ctx, []string{"alice", "bob"}))

		idents := r.List()
		require.Len(t, idents, 1)
		assert.Equal(t, "bob", idents[0].LoginID)
	})

	t.Run("missing credential is skipped", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(vault.NewMemoryStore(), &MockResolver{})
		require.NoError(t, r.Restore(ctx, []string{"ghost"}))
		assert.Empty(t, r.List())
	})
}

func TestRegistry_Concurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no duplicate login ids under concurrent logins", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(vault.NewMemoryStore(), &MockResolver{})

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, &fakeClient{}, vault.Credential{AccessToken: "tok"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Len(t, r.List(), 1)
	})

	t.Run("mutations are not serialized behind stale credential cleanup", func(t *testing.T) {
		t.Parallel()

		store := &slowDeleteStore{
			Store:   vault.NewMemoryStore(),
			blockOn: "oldname",
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		r := NewRegistry(store, &MockResolver{})

		cred := vault.Credential{AccessToken: "tok"}
		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "oldname", ProfileURL: "https://github.com/id/42"}, &fakeClient{}, cred)
		require.NoError(t, err)
		_, err = r.CreateOrUpdate(ctx, Profile{LoginID: "other", ProfileURL: "https://github.com/id/7"}, &fakeClient{}, cred)
		require.NoError(t, err)

		// A rename merge deletes the stale credential under the old
		// login id; park that vault call.
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "newname", ProfileURL: "https://github.com/id/42"}, &fakeClient{}, cred)
			assert.NoError(t, err)
		}()
		<-store.entered

		// An unrelated removal must not queue behind it.
		removed := make(chan error, 1)
		go func() { removed <- r.Remove(ctx, "other") }()
		select {
		case err := <-removed:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("remove stalled behind unrelated vault cleanup")
		}

		close(store.release)
		<-done
	})

	t.Run("readers are not blocked by event handlers", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(vault.NewMemoryStore(), &MockResolver{})

		// A handler that re-enters read operations must not deadlock.
		r.Events().Subscribe(func(Event) {
			_ = r.List()
			_, _ = r.Find("octocat")
		})

		_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, &fakeClient{}, vault.Credential{AccessToken: "tok"})
		require.NoError(t, err)
	})
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store := vault.NewMemoryStore()
	r := NewRegistry(store, &MockResolver{})

	client := &fakeClient{}
	_, err := r.CreateOrUpdate(ctx, Profile{LoginID: "octocat"}, client, vault.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, client.closed)
	assert.Empty(t, r.List())

	// Vault is left intact for the next start.
	_, err = store.Get(ctx, "octocat")
	assert.NoError(t, err)
}
