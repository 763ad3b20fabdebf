package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
)

type sessionConvRepo struct {
	fakeConvRepo
	byUUID    map[string]*model.Conversation
	byToken   map[string]*model.Conversation
	created   []*model.Conversation
	touchedAt time.Time
}

func newSessionConvRepo() *sessionConvRepo {
	return &sessionConvRepo{
		byUUID:  map[string]*model.Conversation{},
		byToken: map[string]*model.Conversation{},
	}
}

func (r *sessionConvRepo) Create(conv *model.Conversation) error {
	conv.ID = uint(100 + len(r.created))
	r.created = append(r.created, conv)
	return nil
}

func (r *sessionConvRepo) FindByUUID(uuid string) (*model.Conversation, error) {
	if c, ok := r.byUUID[uuid]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *sessionConvRepo) FindBySessionToken(token string) (*model.Conversation, error) {
	if c, ok := r.byToken[token]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *sessionConvRepo) TouchExpiry(id uint, expiresAt time.Time) error {
	r.touchedAt = expiresAt
	return nil
}

// memSessionRepo 以内存 map 模拟令牌缓存，未命中同样返回 (nil, nil)。
type memSessionRepo struct {
	entries   map[string]*repository.SessionEntry
	ttls      map[string]time.Duration
	refreshed map[string]time.Duration
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		entries:   map[string]*repository.SessionEntry{},
		ttls:      map[string]time.Duration{},
		refreshed: map[string]time.Duration{},
	}
}

func (r *memSessionRepo) Save(ctx context.Context, token string, entry *repository.SessionEntry, ttl time.Duration) error {
	r.entries[token] = entry
	r.ttls[token] = ttl
	return nil
}

func (r *memSessionRepo) Get(ctx context.Context, token string) (*repository.SessionEntry, error) {
	return r.entries[token], nil
}

func (r *memSessionRepo) Refresh(ctx context.Context, token string, ttl time.Duration) error {
	r.refreshed[token] = ttl
	return nil
}

func (r *memSessionRepo) Delete(ctx context.Context, token string) error {
	delete(r.entries, token)
	return nil
}

func newSessionFixture(t *testing.T) (SessionService, *sessionConvRepo, *memSessionRepo, *model.Client) {
	t.Helper()
	setTestConfig()
	convRepo := newSessionConvRepo()
	sessionRepo := newMemSessionRepo()
	return NewSessionService(convRepo, sessionRepo), convRepo, sessionRepo, &model.Client{ID: 9, UUID: "client-9"}
}

func TestSessionCreatesNewWhenNoToken(t *testing.T) {
	svc, convRepo, sessionRepo, client := newSessionFixture(t)

	conv, tok, isNew, err := svc.ResolveOrCreate(context.Background(), client, "", "203.0.113.7")
	require.NoError(t, err)

	assert.True(t, isNew)
	assert.Len(t, tok, 64)
	assert.Equal(t, model.ConversationActive, conv.State)
	assert.Equal(t, client.ID, conv.ClientID)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), conv.ExpiresAt, 2*time.Second)
	require.Len(t, convRepo.created, 1)

	// 缓存里写入了 IP 绑定的条目，TTL 同会话有效期
	entry := sessionRepo.entries[tok]
	require.NotNil(t, entry)
	assert.Equal(t, conv.UUID, entry.ConversationUUID)
	assert.Equal(t, "203.0.113.7", entry.IP)
	assert.Equal(t, 30*time.Minute, sessionRepo.ttls[tok])
}

func TestSessionResumesFromCache(t *testing.T) {
	svc, convRepo, sessionRepo, client := newSessionFixture(t)
	existing := &model.Conversation{
		ID:        1,
		UUID:      "conv-resume",
		ClientID:  client.ID,
		State:     model.ConversationActive,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	convRepo.byUUID[existing.UUID] = existing
	sessionRepo.entries["tok-1"] = &repository.SessionEntry{
		ConversationUUID: existing.UUID,
		ClientID:         client.ID,
		IP:               "203.0.113.7",
	}

	conv, tok, isNew, err := svc.ResolveOrCreate(context.Background(), client, "tok-1", "203.0.113.7")
	require.NoError(t, err)

	assert.False(t, isNew)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, existing.UUID, conv.UUID)
	assert.Empty(t, convRepo.created)
}

func TestSessionRejectsForeignOrRelocatedToken(t *testing.T) {
	tests := []struct {
		name  string
		entry repository.SessionEntry
	}{
		{"别的租户的令牌", repository.SessionEntry{ConversationUUID: "conv-x", ClientID: 42, IP: "203.0.113.7"}},
		{"换了来源 IP", repository.SessionEntry{ConversationUUID: "conv-x", ClientID: 9, IP: "198.51.100.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, convRepo, sessionRepo, client := newSessionFixture(t)
			convRepo.byUUID["conv-x"] = &model.Conversation{
				UUID: "conv-x", ClientID: tt.entry.ClientID,
				State: model.ConversationActive, ExpiresAt: time.Now().Add(10 * time.Minute),
			}
			entry := tt.entry
			sessionRepo.entries["tok-x"] = &entry

			conv, tok, isNew, err := svc.ResolveOrCreate(context.Background(), client, "tok-x", "203.0.113.7")
			require.NoError(t, err)

			// 不匹配的令牌静默开新会话，不暴露旧会话的存在
			assert.True(t, isNew)
			assert.NotEqual(t, "tok-x", tok)
			assert.NotEqual(t, "conv-x", conv.UUID)
		})
	}
}

func TestSessionFallsBackToStoreAndRefillsCache(t *testing.T) {
	svc, convRepo, sessionRepo, client := newSessionFixture(t)
	existing := &model.Conversation{
		ID:        2,
		UUID:      "conv-db",
		ClientID:  client.ID,
		State:     model.ConversationActive,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	convRepo.byToken["tok-db"] = existing

	conv, tok, isNew, err := svc.ResolveOrCreate(context.Background(), client, "tok-db", "203.0.113.7")
	require.NoError(t, err)

	// 缓存掉了但 MySQL 还认：恢复旧会话并把缓存补回来
	assert.False(t, isNew)
	assert.Equal(t, "tok-db", tok)
	assert.Equal(t, existing.UUID, conv.UUID)
	entry := sessionRepo.entries["tok-db"]
	require.NotNil(t, entry)
	assert.Equal(t, existing.UUID, entry.ConversationUUID)
	assert.Equal(t, "203.0.113.7", entry.IP)
}

func TestSessionExpiredRollsToNew(t *testing.T) {
	svc, convRepo, _, client := newSessionFixture(t)
	convRepo.byToken["tok-old"] = &model.Conversation{
		UUID:      "conv-old",
		ClientID:  client.ID,
		State:     model.ConversationActive,
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	conv, tok, isNew, err := svc.ResolveOrCreate(context.Background(), client, "tok-old", "203.0.113.7")
	require.NoError(t, err)

	assert.True(t, isNew)
	assert.NotEqual(t, "tok-old", tok)
	assert.NotEqual(t, "conv-old", conv.UUID)
	require.Len(t, convRepo.created, 1)
}

func TestSessionTouchSlidesExpiry(t *testing.T) {
	svc, convRepo, sessionRepo, _ := newSessionFixture(t)
	conv := &model.Conversation{ID: 5, UUID: "conv-touch"}

	require.NoError(t, svc.Touch(context.Background(), conv, "tok-touch"))

	assert.WithinDuration(t, time.Now().Add(30*time.Minute), convRepo.touchedAt, 2*time.Second)
	assert.Equal(t, 30*time.Minute, sessionRepo.refreshed["tok-touch"])
}
