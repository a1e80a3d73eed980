package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/limiter"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

// In-memory fakes shared by the service tests.

func mustV7(t interface{ Fatal(...any) }) uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

type fakeUsers struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*model.User
	devices map[uuid.UUID]*model.Device

	createErr error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:   map[uuid.UUID]*model.User{},
		devices: map[uuid.UUID]*model.Device{},
	}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *model.User, d *model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return errs.ErrUsernameTaken
		}
	}
	cu, cd := *u, *d
	f.users[u.ID] = &cu
	f.devices[d.ID] = &cd
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) AddDevice(_ context.Context, d *model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[d.UserID]; !ok {
		return errs.ErrNotFound
	}
	c := *d
	f.devices[d.ID] = &c
	return nil
}

func (f *fakeUsers) GetDevice(_ context.Context, id uuid.UUID) (*model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (f *fakeUsers) ListDevices(_ context.Context, userID uuid.UUID) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakePreKeys struct {
	mu   sync.Mutex
	pool map[uuid.UUID][]model.PreKey
}

var _ repository.PreKeyRepository = (*fakePreKeys)(nil)

func newFakePreKeys() *fakePreKeys {
	return &fakePreKeys{pool: map[uuid.UUID][]model.PreKey{}}
}

func (f *fakePreKeys) AddBatch(_ context.Context, deviceID uuid.UUID, batch [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
outer:
	for _, k := range batch {
		for _, existing := range f.pool[deviceID] {
			if string(existing.Key) == string(k) {
				continue outer
			}
		}
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		f.pool[deviceID] = append(f.pool[deviceID], model.PreKey{ID: id, DeviceID: deviceID, Key: k})
	}
	return nil
}

func (f *fakePreKeys) Claim(_ context.Context, deviceID uuid.UUID) (*model.PreKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pool := f.pool[deviceID]
	if len(pool) == 0 {
		return nil, errs.ErrNoKeysAvailable
	}
	pk := pool[0]
	f.pool[deviceID] = pool[1:]
	return &pk, nil
}

func (f *fakePreKeys) Count(_ context.Context, deviceID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pool[deviceID]), nil
}

type fakeChannels struct {
	mu           sync.Mutex
	users        *fakeUsers
	participants map[uuid.UUID][]uuid.UUID // channel -> users
}

var _ repository.ChannelRepository = (*fakeChannels)(nil)

func newFakeChannels(users *fakeUsers) *fakeChannels {
	return &fakeChannels{users: users, participants: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeChannels) Create(_ context.Context, ch *model.Channel, participantIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[ch.ID] = append([]uuid.UUID(nil), participantIDs...)
	return nil
}

func (f *fakeChannels) GetInfo(ctx context.Context, channelID uuid.UUID) (*model.ChannelInfo, error) {
	f.mu.Lock()
	ids, ok := f.participants[channelID]
	f.mu.Unlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	info := &model.ChannelInfo{ID: channelID}
	for _, id := range ids {
		u, err := f.users.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		info.Participants = append(info.Participants, *u)
		devices, err := f.users.ListDevices(ctx, id)
		if err != nil {
			return nil, err
		}
		info.Devices = append(info.Devices, devices...)
	}
	return info, nil
}

func (f *fakeChannels) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Channel
	for chID, ids := range f.participants {
		for _, id := range ids {
			if id == userID {
				out = append(out, model.Channel{ID: chID})
				break
			}
		}
	}
	return out, nil
}

func (f *fakeChannels) IsParticipant(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.participants[channelID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeMessages struct {
	mu       sync.Mutex
	messages []model.Message
	payloads []model.MessagePayload

	saveErrOnce error // returned once, then cleared (transient failure)
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Save(_ context.Context, m *model.Message, payloads []model.MessagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErrOnce != nil {
		err := f.saveErrOnce
		f.saveErrOnce = nil
		return err
	}
	for _, existing := range f.messages {
		if existing.ID == m.ID {
			return errs.ErrConflict
		}
	}
	f.messages = append(f.messages, *m)
	f.payloads = append(f.payloads, payloads...)
	return nil
}

func (f *fakeMessages) History(_ context.Context, channelID, deviceID, after uuid.UUID) ([]model.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.HistoryEntry
	for _, m := range f.messages {
		if m.ChannelID != channelID {
			continue
		}
		if after != uuid.Nil && string(m.ID.Bytes()) <= string(after.Bytes()) {
			continue
		}
		for _, p := range f.payloads {
			if p.MessageID == m.ID && p.RecipientDeviceID == deviceID {
				out = append(out, model.HistoryEntry{
					MessageID:      m.ID,
					ChannelID:      m.ChannelID,
					SenderID:       m.SenderID,
					SenderDeviceID: m.SenderDeviceID,
					Ciphertext:     p.Ciphertext,
					IsPreKey:       p.IsPreKey,
				})
			}
		}
	}
	return out, nil
}

type fakeSessions struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*model.Session
	challenges map[uuid.UUID]*model.Challenge
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:   map[uuid.UUID]*model.Session{},
		challenges: map[uuid.UUID]*model.Challenge{},
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	f.sessions[s.ID] = &c
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) DeleteUserSessions(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessions) CreateChallenge(_ context.Context, c *model.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc := *c
	f.challenges[c.ID] = &cc
	return nil
}

func (f *fakeSessions) ConsumeChallenge(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.challenges[id]
	if !ok || time.Now().After(c.ExpiresAt) {
		delete(f.challenges, id)
		return nil, errs.ErrExpiredChallenge
	}
	delete(f.challenges, id)
	cc := *c
	return &cc, nil
}

type fakeLimiter struct {
	mu           sync.Mutex
	allowOK      bool
	failBlocked  bool
	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowCalls++
	return l.allowOK, 0, nil
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successCalls++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failureCalls++
	return l.failBlocked, 0, nil
}
