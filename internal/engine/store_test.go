package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/pkg/models"
)

func sampleThread(id string, status models.ThreadStatus, createdAt time.Time) *models.ReplyThread {
	deadline := createdAt.Add(24 * time.Hour)
	return &models.ReplyThread{
		ThreadID:         id,
		MessageID:        "msg-" + id,
		UserID:           7,
		SenderEmail:      "maya@creatorstudio.io",
		SenderName:       "Maya",
		OriginalSubject:  "Partnership opportunity",
		OriginalBody:     "We'd love to collaborate.",
		GeneratedReply:   "Thanks for reaching out!",
		RiskFlags:        []models.RiskFlag{models.FlagDraftFallbackUsed},
		Status:           status,
		ReplyMode:        models.ModeManualApproval,
		CreatedAt:        createdAt,
		ApprovalDeadline: &deadline,
	}
}

func TestInMemoryStoreCloneOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryThreadStore()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	original := sampleThread("t1", models.StatusPendingApproval, base)
	require.NoError(t, store.Create(ctx, original))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	if diff := cmp.Diff(original, got); diff != "" {
		t.Fatalf("stored thread mismatch (-want +got):\n%s", diff)
	}

	// Mutating the returned copy must not leak into the store.
	got.Status = models.StatusApproved
	got.RiskFlags[0] = models.FlagSpamDomain

	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, again.Status)
	assert.Equal(t, models.FlagDraftFallbackUsed, again.RiskFlags[0])
}

func TestInMemoryStoreRejectsDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryThreadStore()
	base := time.Now()

	require.NoError(t, store.Create(ctx, sampleThread("t1", models.StatusPendingApproval, base)))
	assert.Error(t, store.Create(ctx, sampleThread("t1", models.StatusPendingApproval, base)))
}

func TestTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryThreadStore()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, sampleThread("t1", models.StatusPendingApproval, base)))

	resolved := base.Add(time.Hour)
	sentID := "prov-1"
	ok, err := store.TransitionStatus(ctx, "t1", models.StatusPendingApproval, models.StatusApproved, ThreadUpdate{
		ResolvedAt:    &resolved,
		SentMessageID: &sentID,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A second transition from pending must lose.
	ok, err = store.TransitionStatus(ctx, "t1", models.StatusPendingApproval, models.StatusExpired, ThreadUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "prov-1", got.SentMessageID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolved))
	assert.Nil(t, got.ApprovalDeadline, "resolved threads carry no deadline")
}

func TestTransitionStatusUnknownThread(t *testing.T) {
	store := NewInMemoryThreadStore()
	_, err := store.TransitionStatus(context.Background(), "missing", models.StatusPendingApproval, models.StatusExpired, ThreadUpdate{})
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestListExpiredHonorsDeadlineBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryThreadStore()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, sampleThread("past", models.StatusPendingApproval, base.Add(-48*time.Hour))))
	require.NoError(t, store.Create(ctx, sampleThread("future", models.StatusPendingApproval, base)))

	// A thread whose deadline is exactly now counts as expired.
	atBoundary := sampleThread("boundary", models.StatusPendingApproval, base.Add(-24*time.Hour))
	require.NoError(t, store.Create(ctx, atBoundary))

	expired, err := store.ListExpired(ctx, base, 10)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, e := range expired {
		ids[e.ThreadID] = true
	}
	assert.True(t, ids["past"])
	assert.True(t, ids["boundary"])
	assert.False(t, ids["future"])
}
