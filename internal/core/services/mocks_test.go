package services

import (
	"context"
	"sync"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

// mockShell implements driven.RemoteShell with injectable behaviour.
type mockShell struct {
	mu       sync.Mutex
	commands []string
	closed   bool

	executeFn  func(ctx context.Context, command string) (*driven.CommandResult, error)
	uploadFn   func(ctx context.Context, localPath, remotePath string) error
	downloadFn func(ctx context.Context, remotePath, localPath string) error
	listDirFn  func(ctx context.Context, dir string) ([]driven.RemoteFile, error)
	statFn     func(ctx context.Context, path string) (*driven.RemoteFile, error)
	checksumFn func(ctx context.Context, path string) (string, error)
}

func (m *mockShell) Execute(ctx context.Context, command string) (*driven.CommandResult, error) {
	m.mu.Lock()
	m.commands = append(m.commands, command)
	m.mu.Unlock()
	if m.executeFn != nil {
		return m.executeFn(ctx, command)
	}
	return &driven.CommandResult{Command: command}, nil
}

func (m *mockShell) Upload(ctx context.Context, localPath, remotePath string) error {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, localPath, remotePath)
	}
	return nil
}

func (m *mockShell) Download(ctx context.Context, remotePath, localPath string) error {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, remotePath, localPath)
	}
	return nil
}

func (m *mockShell) ListDir(ctx context.Context, dir string) ([]driven.RemoteFile, error) {
	if m.listDirFn != nil {
		return m.listDirFn(ctx, dir)
	}
	return nil, nil
}

func (m *mockShell) Stat(ctx context.Context, path string) (*driven.RemoteFile, error) {
	if m.statFn != nil {
		return m.statFn(ctx, path)
	}
	return &driven.RemoteFile{Path: path}, nil
}

func (m *mockShell) Checksum(ctx context.Context, path string) (string, error) {
	if m.checksumFn != nil {
		return m.checksumFn(ctx, path)
	}
	return "", domain.ErrRemoteIO
}

func (m *mockShell) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockShell) commandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

// mockDialer implements driven.ShellDialer.
type mockDialer struct {
	mu     sync.Mutex
	dials  int
	dialFn func(ctx context.Context, cfg domain.DeviceConfig) (driven.RemoteShell, error)
}

func (m *mockDialer) Dial(ctx context.Context, cfg domain.DeviceConfig) (driven.RemoteShell, error) {
	m.mu.Lock()
	m.dials++
	m.mu.Unlock()
	if m.dialFn != nil {
		return m.dialFn(ctx, cfg)
	}
	return &mockShell{}, nil
}

func (m *mockDialer) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// mockWatcher implements driven.LocalWatcher over a seeded channel.
type mockWatcher struct {
	events  chan driven.FileEvent
	startFn func(ctx context.Context) (<-chan driven.FileEvent, error)
}

func (m *mockWatcher) Start(ctx context.Context) (<-chan driven.FileEvent, error) {
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	return m.events, nil
}

func (m *mockWatcher) Close() error { return nil }

// mockConverter implements driven.Converter.
type mockConverter struct {
	mu        sync.Mutex
	calls     int
	convertFn func(ctx context.Context, markdown []byte) ([]byte, error)
}

func (m *mockConverter) Convert(ctx context.Context, markdown []byte) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.convertFn != nil {
		return m.convertFn(ctx, markdown)
	}
	return append([]byte("%PDF "), markdown...), nil
}

func (m *mockConverter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
