package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"weatherbot/internal/metrics"
	"weatherbot/internal/runtime/supervisor"
	"weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

// Command binds a slash command to a handler.
type Command struct {
	Name        string
	Description string
	Timeout     time.Duration // 0 uses the dispatcher default
	Handle      HandlerFunc
}

const busyText = "Бот сейчас занят, попробуйте ещё раз через минуту."

// Dispatcher routes inbound updates to commands on a bounded worker pool.
type Dispatcher struct {
	log     logx.Logger
	out     transport.Sender
	workers int
	timeout time.Duration

	mu   sync.RWMutex
	cmds map[string]Command
	menu []transport.BotCommand

	jobs chan func()
	mws  []Middleware
}

type DispatcherOption func(*Dispatcher)

// WithWorkers sets the pool size; n <= 0 means NumCPU (at least 2).
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.workers = n }
}

// WithCommandTimeout is the per-command timeout when Command.Timeout is zero.
func WithCommandTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithMiddleware adds m inside the built-in panic/log chain, outside the
// per-command timeout.
func WithMiddleware(m ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.mws = append(d.mws, m...) }
}

// WithQueueSize sets the job queue capacity (default 256).
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.jobs = make(chan func(), n)
		}
	}
}

func NewDispatcher(log logx.Logger, out transport.Sender, opts ...DispatcherOption) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:     log,
		out:     out,
		timeout: 30 * time.Second,
		cmds:    map[string]Command{},
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(d)
	}
	if d.workers <= 0 {
		d.workers = max(runtime.NumCPU(), 2)
	}
	return d
}

// Register replaces the command table.
func (d *Dispatcher) Register(cmds ...Command) {
	table := make(map[string]Command, len(cmds))
	menu := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		table[c.Name] = c
		menu = append(menu, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	d.mu.Lock()
	d.cmds = table
	d.menu = menu
	d.mu.Unlock()
}

// Menu returns the registered commands in registration order.
func (d *Dispatcher) Menu() []transport.BotCommand {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]transport.BotCommand(nil), d.menu...)
}

// PublishMenu pushes the command list to the platform when the sender
// supports it.
func (d *Dispatcher) PublishMenu(ctx context.Context) error {
	up, ok := d.out.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, d.Menu())
}

// tryEnqueue never blocks and survives a closed queue.
func (d *Dispatcher) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// In-flight jobs get up to 3s to finish on exit.
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(d.log),
		supervisor.WithCancelOnError(false),
	)
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers), logx.Int("job_queue_cap", cap(d.jobs)))

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(d.jobs) }) }

	for i := 0; i < d.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-d.jobs:
					if !ok {
						return nil
					}
					d.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (d *Dispatcher) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	d.mu.RLock()
	cmd, found := d.cmds[name]
	d.mu.RUnlock()
	if !found {
		d.log.Debug("unknown command ignored", logx.Command(name), logx.ChatID(msg.ChatID))
		return
	}
	metrics.IncCommand(name)

	req := d.newRequest(msg, cmd.Name, args)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	chain := make([]Middleware, 0, len(d.mws)+3)
	chain = append(chain, MWPanicRecover(d.log), MWRequestLog(d.log))
	chain = append(chain, d.mws...)
	chain = append(chain, MWTimeout(timeout))
	final := Chain(cmd.Handle, chain...)

	if !d.tryEnqueue(func() { _ = final(ctx, req) }) {
		req.Logger.Warn("command queue full")
		if _, err := d.out.SendText(ctx, req.Chat, busyText, nil); err != nil {
			req.Logger.Debug("busy reply failed", logx.Err(err))
		}
	}
}

func (d *Dispatcher) newRequest(msg *transport.Message, name string, args []string) *Request {
	rid := newReqID()
	return &Request{
		Message: msg,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		ReqID:   rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.ChatID(msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.Command(name),
		),
	}
}
