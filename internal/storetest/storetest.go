// Package storetest проверяет общий контракт MessageRepository. Каждый бекенд вызывает Run из своих тестов.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/service"

	"github.com/stretchr/testify/require"
)

// Factory возвращает пустой репозиторий, свой на каждый подтест.
type Factory func(t *testing.T) service.MessageRepository

func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, repo service.MessageRepository)
	}{
		{"AppendAssignsSeqAndOrder", testAppendOrder},
		{"HistoryIsSupersetOfEarlierCalls", testHistorySuperset},
		{"EmptyHistoryIsNotNil", testEmptyHistory},
		{"ConcurrentAppendsGetDistinctSeqs", testConcurrentAppends},
		{"ConversationsAreIsolated", testIsolation},
		{"InvalidDraftWritesNothing", testInvalidDraft},
		{"MarkSeenIsIdempotent", testMarkSeenIdempotent},
		{"MarkSeenBySenderFails", testMarkSeenBySender},
		{"MarkSeenUnknownMessage", testMarkSeenUnknown},
		{"MarkAllSeenOnlyTouchesOtherParty", testMarkAllSeen},
		{"Directory", testDirectory},
		{"IDsWithSlashes", testSlashIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

func draft(t *testing.T, farmer, doctor string, sender domain.Role, body string) domain.Draft {
	t.Helper()
	d, err := domain.NewDraft(farmer, doctor, string(sender), body)
	require.NoError(t, err)
	return d
}

func appendMsg(t *testing.T, repo service.MessageRepository, farmer, doctor string, sender domain.Role, body string) domain.Message {
	t.Helper()
	m, err := repo.Append(context.Background(), draft(t, farmer, doctor, sender, body))
	require.NoError(t, err)
	return m
}

func key(farmer, doctor string) domain.ConversationKey {
	return domain.ConversationKey{FarmerID: farmer, DoctorID: doctor}
}

func testAppendOrder(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	m1 := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "my cows are coughing")
	m2 := appendMsg(t, repo, "f1", "d1", domain.RoleDoctor, "since when?")
	m3 := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "two days")

	require.NotEmpty(t, m1.ID)
	require.NotEqual(t, m1.ID, m2.ID)
	require.Equal(t, int64(1), m1.Seq)
	require.Equal(t, int64(2), m2.Seq)
	require.Equal(t, int64(3), m3.Seq)
	require.False(t, m1.Seen)
	require.False(t, m2.CreatedAt.Before(m1.CreatedAt))
	require.False(t, m3.CreatedAt.Before(m2.CreatedAt))

	got, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{m1.ID, m2.ID, m3.ID}, ids(got))
	require.Equal(t, "since when?", got[1].Body)
	require.Equal(t, domain.RoleDoctor, got[1].Sender)
	require.Equal(t, "f1", got[1].FarmerID)
	require.Equal(t, "d1", got[1].DoctorID)
}

func testHistorySuperset(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "a")
	first, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)

	appendMsg(t, repo, "f1", "d1", domain.RoleDoctor, "b")
	second, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)

	require.Len(t, second, len(first)+1)
	require.Equal(t, ids(first), ids(second)[:len(first)])
}

func testEmptyHistory(t *testing.T, repo service.MessageRepository) {
	got, err := repo.History(context.Background(), key("nobody", "none"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func testConcurrentAppends(t *testing.T, repo service.MessageRepository) {
	const n = 20

	drafts := make([]domain.Draft, n)
	for i := range drafts {
		sender := domain.RoleFarmer
		if i%2 == 1 {
			sender = domain.RoleDoctor
		}
		drafts[i] = draft(t, "f1", "d1", sender, fmt.Sprintf("msg %d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, d := range drafts {
		wg.Add(1)
		go func(d domain.Draft) {
			defer wg.Done()
			_, err := repo.Append(context.Background(), d)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.History(context.Background(), key("f1", "d1"))
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, m := range got {
		require.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			require.False(t, m.CreatedAt.Before(got[i-1].CreatedAt))
		}
	}
}

func testIsolation(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "to d1")
	appendMsg(t, repo, "f1", "d2", domain.RoleFarmer, "to d2")
	m := appendMsg(t, repo, "f2", "d1", domain.RoleFarmer, "from f2")
	require.Equal(t, int64(1), m.Seq)

	got, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "to d1", got[0].Body)
}

func testInvalidDraft(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	_, err := repo.Append(ctx, domain.Draft{Key: key("f1", "d1"), Sender: "vet", Body: "hello"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = repo.Append(ctx, domain.Draft{Key: key("f1", "d1"), Sender: domain.RoleFarmer, Body: "   "})
	require.ErrorIs(t, err, domain.ErrValidation)

	got, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	require.Empty(t, got)

	doctors, err := repo.DoctorsForFarmer(ctx, "f1")
	require.NoError(t, err)
	require.Empty(t, doctors)
}

func testMarkSeenIdempotent(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()
	m := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "hello doctor")

	got, changed, err := repo.MarkSeen(ctx, key("f1", "d1"), m.ID, domain.RoleDoctor)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, got.Seen)
	require.Equal(t, m.ID, got.ID)

	got, changed, err = repo.MarkSeen(ctx, key("f1", "d1"), m.ID, domain.RoleDoctor)
	require.NoError(t, err)
	require.False(t, changed)
	require.True(t, got.Seen)

	history, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	require.True(t, history[0].Seen)
	require.Equal(t, m.Body, history[0].Body)
	require.Equal(t, m.Seq, history[0].Seq)
}

func testMarkSeenBySender(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()
	m := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "hello doctor")

	_, _, err := repo.MarkSeen(ctx, key("f1", "d1"), m.ID, domain.RoleFarmer)
	require.ErrorIs(t, err, domain.ErrValidation)

	history, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	require.False(t, history[0].Seen)
}

func testMarkSeenUnknown(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()
	m := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "hello")

	_, _, err := repo.MarkSeen(ctx, key("f1", "d1"), "0190f5a2-0000-7000-8000-000000000000", domain.RoleDoctor)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// настоящий id, но через чужую переписку, тоже не найден
	_, _, err = repo.MarkSeen(ctx, key("f1", "d2"), m.ID, domain.RoleDoctor)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testMarkAllSeen(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()
	f1 := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "one")
	d1 := appendMsg(t, repo, "f1", "d1", domain.RoleDoctor, "two")
	f2 := appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "three")

	changed, err := repo.MarkAllSeen(ctx, key("f1", "d1"), domain.RoleDoctor)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{f1.ID, f2.ID}, ids(changed))

	changed, err = repo.MarkAllSeen(ctx, key("f1", "d1"), domain.RoleDoctor)
	require.NoError(t, err)
	require.Empty(t, changed)

	history, err := repo.History(ctx, key("f1", "d1"))
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, m := range history {
		seen[m.ID] = m.Seen
	}
	require.True(t, seen[f1.ID])
	require.True(t, seen[f2.ID])
	require.False(t, seen[d1.ID])
}

func testDirectory(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	farmers, err := repo.FarmersForDoctor(ctx, "d1")
	require.NoError(t, err)
	require.Empty(t, farmers)

	appendMsg(t, repo, "f2", "d1", domain.RoleFarmer, "hi")
	appendMsg(t, repo, "f1", "d1", domain.RoleFarmer, "hi")
	appendMsg(t, repo, "f1", "d1", domain.RoleDoctor, "hello")
	appendMsg(t, repo, "f1", "d2", domain.RoleDoctor, "checking in")

	farmers, err = repo.FarmersForDoctor(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []string{"f1", "f2"}, farmers)

	doctors, err := repo.DoctorsForFarmer(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []string{"d1", "d2"}, doctors)

	doctors, err = repo.DoctorsForFarmer(ctx, "f3")
	require.NoError(t, err)
	require.Empty(t, doctors)
}

func testSlashIDs(t *testing.T, repo service.MessageRepository) {
	ctx := context.Background()

	appendMsg(t, repo, "farm/north", "doc", domain.RoleFarmer, "a")
	appendMsg(t, repo, "farm", "north/doc", domain.RoleFarmer, "b")

	got, err := repo.History(ctx, key("farm/north", "doc"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Body)

	farmers, err := repo.FarmersForDoctor(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, []string{"farm/north"}, farmers)

	doctors, err := repo.DoctorsForFarmer(ctx, "farm")
	require.NoError(t, err)
	require.Equal(t, []string{"north/doc"}, doctors)
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
