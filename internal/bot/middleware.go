package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"weatherbot/internal/storage"
	logx "weatherbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			logger := req.logger(log)
			if err != nil {
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// a weather round trip is slow by nature; only outliers reach INFO
			if d >= 3*time.Second {
				logger.Info("request ok", logx.Duration("dur", d))
			} else {
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// auditAction maps a command name to its journal action.
func auditAction(cmd string) string {
	switch cmd {
	case "start":
		return storage.ActionStart
	case "weather":
		return storage.ActionWeather
	default:
		return "command:" + cmd
	}
}

// MWAudit appends one journal entry per handled command. A nil store makes it
// a no-op. Journal errors are logged and never fail the request.
func MWAudit(store storage.Store, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if store == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)

			e := storage.AuditEntry{
				At:     start,
				Action: auditAction(req.Command),
				UserID: req.FromID,
				ChatID: req.Chat.ChatID,
				TookMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Fail = 1
				e.Error = err.Error()
			} else {
				e.OK = 1
			}
			// the request ctx may already be past its deadline
			actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if aerr := store.AppendAudit(actx, e); aerr != nil {
				req.logger(log).Warn("audit append failed", logx.Err(aerr))
			}
			cancel()
			return err
		}
	}
}
