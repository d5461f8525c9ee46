package wpbot

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Archive 是可选的会话记录持久化, 内存中的历史才是权威数据
type Archive interface {
	LoadHistory(ctx context.Context, userID string, limit int) ([]Exchange, error)
	AppendHistory(ctx context.Context, userID string, records []Exchange) error
	ClearHistory(ctx context.Context, userID string) error
	CountHistory(ctx context.Context, userID string) (int64, error)
}

// SessionStore 保存每个用户的有界会话历史
//
// lock 只保护 sessions 这个 map; 每个会话有自己的锁, 只在读快照和写入时持有.
type SessionStore struct {
	logger  *zap.Logger
	maxLen  int
	archive Archive
	now     func() time.Time

	lock     sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu        sync.Mutex
	hydrated  bool
	histories []Exchange

	// generation 在每次清空时加一, 清空之前开始的 Turn 不会再写入
	generation uint64

	// 持久化操作按内存修改的顺序排队, 在会话锁之外执行
	pending  []archiveOp
	draining bool
}

type archiveOp struct {
	name string
	run  func(ctx context.Context) error
}

// NewSessionStore 创建会话存储, archive 可以为 nil
func NewSessionStore(logger *zap.Logger, maxLen int, archive Archive) *SessionStore {
	return &SessionStore{
		logger:   logger.Named("Sessions"),
		maxLen:   maxLen,
		archive:  archive,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (s *SessionStore) lookup(userID string) (*session, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// getSessionOrInit 获取或初始化会话, 返回时已经持有会话锁
func (s *SessionStore) getSessionOrInit(ctx context.Context, userID string) *session {
	s.lock.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{}
		s.sessions[userID] = sess
	}
	s.lock.Unlock()

	sess.mu.Lock()
	if !sess.hydrated {
		sess.hydrated = true
		s.fillSessionFromArchive(ctx, sess, userID)
	}
	return sess
}

func (s *SessionStore) fillSessionFromArchive(ctx context.Context, sess *session, userID string) {
	if s.archive == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("加载会话历史时发生panic", zap.String("UserID", userID), zap.Any("Panic", r))
		}
	}()

	records, err := s.archive.LoadHistory(ctx, userID, s.maxLen)
	if err != nil {
		s.logger.Error("加载会话历史失败", zap.String("UserID", userID), zap.Error(err))
		return
	}

	sess.histories = s.evict(records)
	s.logger.Info(
		"加载会话历史完成",
		zap.String("UserID", userID),
		zap.Int("LoadedMessages", len(sess.histories)),
		zap.Int("MaxHistoryLength", s.maxLen),
	)
}

// History 返回用户历史的副本, 内存中没有会话的用户返回空切片且不会创建会话
func (s *SessionStore) History(ctx context.Context, userID string) []Exchange {
	sess, ok := s.lookup(userID)
	if !ok {
		return []Exchange{}
	}

	sess.mu.Lock()
	if !sess.hydrated {
		sess.hydrated = true
		s.fillSessionFromArchive(ctx, sess, userID)
	}
	h := cloneHistory(sess.histories)
	sess.mu.Unlock()
	return h
}

// Append 追加一条记录, 超出上限时从最旧的开始丢弃
func (s *SessionStore) Append(ctx context.Context, userID string, role Role, text string) {
	s.Begin(ctx, userID).Commit(ctx, Exchange{Role: role, Text: text})
}

// Clear 立即清空用户历史, 对空历史重复调用没有影响
//
// 清空之前开始、尚未提交的 Turn 在提交时会被丢弃.
func (s *SessionStore) Clear(ctx context.Context, userID string) {
	sess := s.getSessionOrInit(ctx, userID)
	sess.histories = nil
	sess.generation++
	drain := s.enqueueArchive(sess, "清空会话记录", func(ctx context.Context) error {
		return s.archive.ClearHistory(ctx, userID)
	})
	sess.mu.Unlock()

	if drain {
		s.drainArchive(ctx, sess, userID)
	}
}

// Len 返回内存中的会话数量
func (s *SessionStore) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sessions)
}

// ArchivedCount 返回持久化的记录数量, 没有配置持久化时 ok 为 false
func (s *SessionStore) ArchivedCount(ctx context.Context, userID string) (count int64, ok bool) {
	if s.archive == nil {
		return 0, false
	}
	count, err := s.archive.CountHistory(ctx, userID)
	if err != nil {
		s.logger.Error("统计会话记录失败", zap.String("UserID", userID), zap.Error(err))
		return 0, false
	}
	return count, true
}

// Begin 返回用户此刻历史的快照, 之后用 Commit 写入这一轮的记录
//
// Begin 和 Commit 之间不持有任何锁, 不需要 Commit 的 Turn 直接丢弃即可.
func (s *SessionStore) Begin(ctx context.Context, userID string) *Turn {
	sess := s.getSessionOrInit(ctx, userID)
	defer sess.mu.Unlock()

	return &Turn{
		store:      s,
		userID:     userID,
		sess:       sess,
		generation: sess.generation,
		history:    cloneHistory(sess.histories),
	}
}

// enqueueArchive 必须在持有会话锁时调用; 返回 true 时调用方负责在解锁后 drainArchive
func (s *SessionStore) enqueueArchive(sess *session, name string, run func(ctx context.Context) error) bool {
	if s.archive == nil {
		return false
	}
	sess.pending = append(sess.pending, archiveOp{name: name, run: run})
	if sess.draining {
		return false
	}
	sess.draining = true
	return true
}

func (s *SessionStore) drainArchive(ctx context.Context, sess *session, userID string) {
	ctx = context.WithoutCancel(ctx)
	for {
		sess.mu.Lock()
		if len(sess.pending) == 0 {
			sess.draining = false
			sess.mu.Unlock()
			return
		}
		op := sess.pending[0]
		sess.pending = sess.pending[1:]
		sess.mu.Unlock()

		if err := s.runArchiveOp(ctx, op); err != nil {
			s.logger.Error(op.name+"失败", zap.String("UserID", userID), zap.Error(err))
		}
	}
}

func (s *SessionStore) runArchiveOp(ctx context.Context, op archiveOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return op.run(ctx)
}

func (s *SessionStore) evict(histories []Exchange) []Exchange {
	if over := len(histories) - s.maxLen; over > 0 {
		return slices.Clone(histories[over:])
	}
	return histories
}

// Turn 是一轮对话: Begin 时的历史快照加上之后的一次写入
type Turn struct {
	store      *SessionStore
	userID     string
	sess       *session
	generation uint64
	history    []Exchange
}

// History 返回 Begin 时的历史快照
func (t *Turn) History() []Exchange {
	return t.history
}

// Commit 原子地追加 records 并淘汰超出上限的旧记录
//
// 如果 Begin 之后用户清空过历史, records 被丢弃并返回 false.
func (t *Turn) Commit(ctx context.Context, records ...Exchange) bool {
	s := t.store
	stamped := make([]Exchange, len(records))
	for i, r := range records {
		if r.Timestamp.IsZero() {
			r.Timestamp = s.now()
		}
		stamped[i] = r
	}

	sess := t.sess
	sess.mu.Lock()
	if sess.generation != t.generation {
		sess.mu.Unlock()
		s.logger.Info("会话已被清空, 丢弃这一轮记录", zap.String("UserID", t.userID))
		return false
	}
	sess.histories = s.evict(append(sess.histories, stamped...))
	drain := s.enqueueArchive(sess, "写入会话记录", func(ctx context.Context) error {
		return s.archive.AppendHistory(ctx, t.userID, stamped)
	})
	sess.mu.Unlock()

	if drain {
		s.drainArchive(ctx, sess, t.userID)
	}
	return true
}

func cloneHistory(histories []Exchange) []Exchange {
	if len(histories) == 0 {
		return []Exchange{}
	}
	return slices.Clone(histories)
}
