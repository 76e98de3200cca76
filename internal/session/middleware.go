package session

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const contextKey = "tethbox.session"

// Options Cookie 与会话存储选项
type Options struct {
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

// Manager 负责在请求开始时加载会话，并在响应首字节写出前保存
type Manager struct {
	store Store
	codec *TokenCodec
	opts  Options
	log   *zap.Logger
}

// NewManager 创建会话管理器
func NewManager(store Store, codec *TokenCodec, opts Options, log *zap.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "tethbox_session"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	return &Manager{store: store, codec: codec, opts: opts, log: log}
}

// FromContext 返回中间件挂载到请求上的会话
func FromContext(c *gin.Context) *Session {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// Middleware 返回会话中间件
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := m.load(c)
		c.Set(contextKey, sess)

		w := &sessionWriter{ResponseWriter: c.Writer, manager: m, ctx: c, sess: sess}
		c.Writer = w

		c.Next()

		// 处理函数没有写出任何内容时在此保存
		w.commit()
	}
}

func (m *Manager) load(c *gin.Context) *Session {
	raw, err := c.Cookie(m.opts.CookieName)
	if err != nil || raw == "" {
		return newSession(uuid.NewString(), Data{})
	}

	sid, err := m.codec.Parse(raw)
	if err != nil {
		m.log.Debug("discarding session cookie", zap.Error(err))
		return newSession(uuid.NewString(), Data{})
	}

	data, err := m.store.Load(c.Request.Context(), sid)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.log.Warn("failed to load session", zap.String("session_id", sid), zap.Error(err))
		}
		return newSession(sid, Data{})
	}
	return newSession(sid, *data)
}

// save 持久化脏会话并写出 Cookie，必须在响应头发送前调用
func (m *Manager) save(c *gin.Context, header http.Header, sess *Session) {
	data, dirty := sess.takeDirty()
	if !dirty {
		return
	}

	if err := m.store.Save(c.Request.Context(), sess.ID(), &data, m.opts.MaxAge); err != nil {
		m.log.Error("failed to save session", zap.String("session_id", sess.ID()), zap.Error(err))
		return
	}

	token, err := m.codec.Issue(sess.ID())
	if err != nil {
		m.log.Error("failed to issue session token", zap.Error(err))
		return
	}

	cookie := &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.opts.MaxAge.Seconds()),
		Secure:   m.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if v := cookie.String(); v != "" {
		header.Add("Set-Cookie", v)
	}
}

// sessionWriter 在第一次写出响应前保存会话
type sessionWriter struct {
	gin.ResponseWriter
	manager   *Manager
	ctx       *gin.Context
	sess      *Session
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if w.ResponseWriter.Written() {
		return
	}
	w.manager.save(w.ctx, w.ResponseWriter.Header(), w.sess)
}

func (w *sessionWriter) Write(data []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(data)
}

func (w *sessionWriter) WriteString(s string) (int, error) {
	w.commit()
	return w.ResponseWriter.WriteString(s)
}

func (w *sessionWriter) WriteHeaderNow() {
	w.commit()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *sessionWriter) Flush() {
	w.commit()
	w.ResponseWriter.Flush()
}

func (w *sessionWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.commit()
	return w.ResponseWriter.Hijack()
}
