// Package bootstrap 以子进程方式拉起工具服务，并保证在驱动结束后终止它。
package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/pkg/logger"
)

const (
	defaultReadyDelay = 3 * time.Second
	defaultStopGrace  = 5 * time.Second
)

// Config 描述要拉起的子进程。
type Config struct {
	Launcher   string
	Args       []string
	WorkingDir string
	ReadyDelay time.Duration
	StopGrace  time.Duration
	Stdout     io.Writer
	Stderr     io.Writer
}

// Process 是被托管子进程的最小抽象。
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	Wait() error
}

// SpawnFunc 启动子进程。
type SpawnFunc func(path string, cfg Config) (Process, error)

// Option 配置 Supervisor。
type Option func(*Supervisor)

// WithLookPath 替换可执行文件查找函数。
func WithLookPath(fn func(string) (string, error)) Option {
	return func(s *Supervisor) { s.lookPath = fn }
}

// WithSpawner 替换子进程的启动方式。
func WithSpawner(fn SpawnFunc) Option {
	return func(s *Supervisor) { s.spawn = fn }
}

// WithSleep 替换启动后的固定等待。
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// Supervisor 管理工具服务子进程的生命周期。
type Supervisor struct {
	cfg      Config
	lookPath func(string) (string, error)
	spawn    SpawnFunc
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

// New 创建 Supervisor。
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.ReadyDelay <= 0 {
		cfg.ReadyDelay = defaultReadyDelay
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	s := &Supervisor{
		cfg:      cfg,
		lookPath: exec.LookPath,
		spawn:    spawnExec,
		sleep:    sleepContext,
		logger:   logger.Named("bootstrap"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 检查启动器、拉起子进程、等待固定时长后执行 fn，无论 fn 结果如何都会终止子进程。
func (s *Supervisor) Run(ctx context.Context, fn func(context.Context) error) error {
	path, err := s.lookPath(s.cfg.Launcher)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLauncherMissing, err, "未找到启动器",
			xerrors.WithMetadata("launcher", s.cfg.Launcher))
	}

	proc, err := s.spawn(path, s.cfg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSpawnFailure, err, "启动工具服务失败",
			xerrors.WithMetadata("launcher", path))
	}
	child := newChild(proc, s.cfg.StopGrace, s.logger)
	defer child.terminate()
	s.logger.Info("工具服务已启动", "pid", proc.Pid(), "launcher", path, "args", s.cfg.Args)

	if err := s.sleep(ctx, s.cfg.ReadyDelay); err != nil {
		return err
	}
	return fn(ctx)
}

type child struct {
	proc   Process
	grace  time.Duration
	done   chan error
	once   sync.Once
	logger *slog.Logger
}

func newChild(proc Process, grace time.Duration, log *slog.Logger) *child {
	c := &child{proc: proc, grace: grace, done: make(chan error, 1), logger: log}
	go func() { c.done <- proc.Wait() }()
	return c
}

// terminate 先发送 SIGTERM，超过宽限期仍未退出则强制结束。
func (c *child) terminate() {
	c.once.Do(func() {
		select {
		case err := <-c.done:
			c.logger.Warn("工具服务已提前退出", "pid", c.proc.Pid(), "error", err)
			return
		default:
		}

		if err := c.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Warn("发送 SIGTERM 失败，直接结束进程", "pid", c.proc.Pid(), "error", err)
			_ = c.proc.Kill()
		}

		timer := time.NewTimer(c.grace)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
			c.logger.Warn("工具服务未在宽限期内退出，强制结束", "pid", c.proc.Pid(), "grace", c.grace)
			_ = c.proc.Kill()
			<-c.done
		}
		c.logger.Info("工具服务已停止", "pid", c.proc.Pid())
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

// spawnExec 让子进程成为新进程组的组长，go run 之类的启动器派生出的孙进程会随组一起收到信号。
func spawnExec(path string, cfg Config) (Process, error) {
	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	cmd.Env = os.Environ()
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	return signalGroup(p.cmd.Process, sig)
}

func (p *execProcess) Kill() error {
	return signalGroup(p.cmd.Process, os.Kill)
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }
